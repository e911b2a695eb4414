package agentloop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autoglm/phoneagent/pkg/device"
)

func TestRunMultipleDrivesEachTaskIndependently(t *testing.T) {
	newTask := func(message string) Task {
		dev := &fakeDevice{screens: []*device.Screenshot{
			{PixelsPNG: []byte("s0"), Width: 1080, CurrentApp: "com.app", Elements: []device.UiElement{elem("/Before")}},
		}}
		modelSrv := sseQueueServer(t, []string{`<answer>finish(message="` + message + `")</answer>`})
		t.Cleanup(modelSrv.Close)

		deps := baseDeps(t, "<decision>use_atomic_actions</decision>", newEmptyRegistry(t), dev, modelSrv)
		return Task{Cfg: Config{Task: "task " + message, SystemPrompt: "sys"}, Deps: deps}
	}

	tasks := []Task{newTask("alpha"), newTask("beta"), newTask("gamma")}
	results := RunMultiple(context.Background(), tasks)

	require.Len(t, results, 3)
	want := []string{"alpha", "beta", "gamma"}
	for i, r := range results {
		require.Equal(t, i, r.Index)
		require.True(t, r.Result.Finished)
		require.True(t, r.Result.Success)
		require.Equal(t, want[i], r.Result.Message)
	}
}

func TestRunMultipleRespectsContextCancellation(t *testing.T) {
	dev := &fakeDevice{screens: []*device.Screenshot{
		{PixelsPNG: []byte("s0"), Width: 1080, CurrentApp: "com.app", Elements: []device.UiElement{elem("/Before")}},
	}}
	modelSrv := sseQueueServer(t, []string{`<answer>do(action="Back")</answer>`})
	defer modelSrv.Close()

	deps := baseDeps(t, "<decision>use_atomic_actions</decision>", newEmptyRegistry(t), dev, modelSrv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := RunMultiple(ctx, []Task{{Cfg: Config{Task: "cancelled task", SystemPrompt: "sys"}, Deps: deps}})

	require.Len(t, results, 1)
	require.True(t, results[0].Result.Finished)
	require.False(t, results[0].Result.Success)
	require.Equal(t, "user cancelled", results[0].Result.Message)
}
