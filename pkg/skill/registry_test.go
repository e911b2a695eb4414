package skill

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleLibrary = `{
  "version": "1.0",
  "created_time": "2026-01-01T00:00:00Z",
  "updated_time": "2026-01-01T00:00:00Z",
  "skills": {
    "alarm_create": {
      "function_name": "alarm_create",
      "tag": "alarm.create",
      "description": "Create an alarm at a given time.",
      "parameters": [{"name": "hour"}, {"name": "minute"}],
      "workflow_count": 3,
      "workflow_tasks": ["set an alarm for 7am"],
      "created_time": "2026-01-01T00:00:00Z",
      "file_path": "skills/alarm_create.py"
    }
  }
}`

func writeLibrary(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skill_library.json"), []byte(content), 0o644))
}

func TestNewRegistryLoadsSkills(t *testing.T) {
	dir := t.TempDir()
	writeLibrary(t, dir, sampleLibrary)

	reg, err := NewRegistry(dir)
	require.NoError(t, err)

	d, ok := reg.Lookup("alarm_create")
	require.True(t, ok)
	require.Equal(t, "alarm.create", d.Tag)
	require.Len(t, reg.Descriptors(), 1)
}

func TestNewRegistryErrorsWithoutLibraryFile(t *testing.T) {
	dir := t.TempDir()
	_, err := NewRegistry(dir)
	require.Error(t, err)
}

func TestRegistryLoadsOverlay(t *testing.T) {
	dir := t.TempDir()
	writeLibrary(t, dir, sampleLibrary)
	overlay := `
skills:
  alarm_create:
    - action: Launch
      app: Clock
    - action: Tap
      element: /Button[@text="Create"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skills.yaml"), []byte(overlay), 0o644))

	reg, err := NewRegistry(dir)
	require.NoError(t, err)

	actions, ok := reg.Overlay("alarm_create")
	require.True(t, ok)
	require.Len(t, actions, 2)
	require.Equal(t, "Launch", actions[0].Action)
	require.Equal(t, "Clock", actions[0].App)
}

func TestRegistryMissingOverlayIsFine(t *testing.T) {
	dir := t.TempDir()
	writeLibrary(t, dir, sampleLibrary)

	reg, err := NewRegistry(dir)
	require.NoError(t, err)

	_, ok := reg.Overlay("alarm_create")
	require.False(t, ok)
}

func TestRegistryWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeLibrary(t, dir, sampleLibrary)

	reg, err := NewRegistry(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, reg.Watch(ctx))
	defer reg.Close()

	updated := `{
  "version": "1.0",
  "created_time": "2026-01-01T00:00:00Z",
  "updated_time": "2026-01-02T00:00:00Z",
  "skills": {
    "alarm_create": {
      "function_name": "alarm_create",
      "tag": "alarm.create.v2",
      "description": "Create an alarm.",
      "parameters": [],
      "workflow_count": 4,
      "workflow_tasks": [],
      "created_time": "2026-01-01T00:00:00Z",
      "file_path": "skills/alarm_create.py"
    }
  }
}`
	writeLibrary(t, dir, updated)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d, ok := reg.Lookup("alarm_create"); ok && d.Tag == "alarm.create.v2" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("registry did not reload skill_library.json after change within deadline")
}
