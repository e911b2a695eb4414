package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autoglm/phoneagent/pkg/action"
	"github.com/autoglm/phoneagent/pkg/agentloop"
	"github.com/autoglm/phoneagent/pkg/config"
	"github.com/autoglm/phoneagent/pkg/device"
	"github.com/autoglm/phoneagent/pkg/embedder"
	"github.com/autoglm/phoneagent/pkg/erroranalyzer"
	"github.com/autoglm/phoneagent/pkg/logger"
	"github.com/autoglm/phoneagent/pkg/memory"
	"github.com/autoglm/phoneagent/pkg/modelclient"
	"github.com/autoglm/phoneagent/pkg/observability"
	"github.com/autoglm/phoneagent/pkg/planner"
	"github.com/autoglm/phoneagent/pkg/promptctx"
	"github.com/autoglm/phoneagent/pkg/reflection"
	"github.com/autoglm/phoneagent/pkg/reporter"
	"github.com/autoglm/phoneagent/pkg/skill"
)

// RunCmd wires every module (C1-C11) from a config file and task string and
// drives AgentLoop.Run to completion.
type RunCmd struct {
	Task    string `required:"" help:"Natural-language task for the agent to perform."`
	AppTag  string `name:"app-tag" help:"Workflow tag; defaults to the task text."`
	Verbose bool   `help:"Print one line per step instead of only the final result."`
}

func (c *RunCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level, err := logger.ParseLevel(cfg.Logger.Level)
	if err != nil {
		return err
	}
	logger.Init(level, os.Stderr, cfg.Logger.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if _, err := observability.InitGlobalTracer(ctx, observability.TracerConfig{
		Enabled:      cfg.Observability.TracingEnabled,
		EndpointURL:  cfg.Observability.OTLPEndpoint,
		SamplingRate: cfg.Observability.SamplingRate,
		ServiceName:  observability.DefaultServiceName,
	}); err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}

	var modelMetrics *observability.ModelMetrics
	if cfg.Observability.MetricsEnabled {
		modelMetrics, _, err = observability.NewModelMetrics()
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.Observability.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return
			}
		}()
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
	}

	dev, err := resolveDeviceController(cfg.Device)
	if err != nil {
		return err
	}

	var embed embedder.Embedder
	if cfg.Model.EmbedderBaseURL != "" {
		embed = embedder.NewOpenAIEmbedder(embedder.OpenAIEmbedderConfig{
			BaseURL: cfg.Model.EmbedderBaseURL,
			APIKey:  cfg.Model.EmbedderAPIKey,
			Model:   cfg.Model.EmbedderModel,
		})
	}

	mem := memory.New(memory.Config{Dir: cfg.Memory.Dir, Embedder: embed})
	if err := mem.LoadFromStore(ctx, c.Task, c.appTag(), cfg.Memory.EmbedThreshold, cfg.Memory.TagThreshold); err != nil {
		return fmt.Errorf("load memory store: %w", err)
	}

	skillDir := filepath.Dir(cfg.Skills.LibraryPath)
	registry, err := skill.NewRegistry(skillDir)
	if err != nil {
		return fmt.Errorf("load skill registry: %w", err)
	}
	defer registry.Close()
	if cfg.Skills.WatchReload {
		go func() {
			if err := registry.Watch(ctx); err != nil && ctx.Err() == nil {
				return
			}
		}()
	}

	model := modelclient.New(modelclient.Config{
		BaseURL:          cfg.Model.BaseURL,
		APIKey:           cfg.Model.APIKey,
		Model:            cfg.Model.Model,
		MaxTokens:        cfg.Model.MaxTokens,
		Temperature:      cfg.Model.Temperature,
		TopP:             cfg.Model.TopP,
		FrequencyPenalty: cfg.Model.FrequencyPenalty,
	}, modelMetrics)

	var rep reporter.Reporter
	if c.Verbose {
		rep = reporter.NewVerbose(os.Stdout)
	} else {
		rep = reporter.NewQuiet(os.Stdout)
	}

	deps := agentloop.Deps{
		Device:     dev,
		Handler:    action.NewHandler(dev, confirmOnStdin(cfg.Device.ConfirmSensitive), takeoverOnStdin),
		Context:    promptctx.New(),
		Model:      model,
		Planner:    planner.New(model),
		Registry:   registry,
		Reflection: reflection.New(model),
		Errors:     erroranalyzer.New(),
		Memory:     mem,
		Reporter:   rep,
	}

	loop := agentloop.New(agentloop.Config{
		Task:                    c.Task,
		AppTag:                  c.appTag(),
		SystemPrompt:            defaultSystemPrompt,
		MaxSteps:                cfg.Loop.MaxSteps,
		PlanningInterval:        cfg.Loop.PlanningInterval,
		ReflectionOnFailureOnly: cfg.Loop.ReflectionOnFailureOnly,
		Skills:                  skillDescriptors(registry),
	}, deps)

	result := loop.Run(ctx)

	if err := mem.Persist(ctx); err != nil {
		return fmt.Errorf("persist memory: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("task did not succeed: %s", result.Message)
	}
	return nil
}

func (c *RunCmd) appTag() string {
	if c.AppTag != "" {
		return c.AppTag
	}
	return c.Task
}

const defaultSystemPrompt = "You are a phone automation agent. Observe the screen, reason about the task, and act one step at a time."

// skillDescriptors adapts the registry's on-disk descriptors into the
// narrower shape the planner's router prompt needs.
func skillDescriptors(registry *skill.Registry) []planner.SkillDescriptor {
	descs := registry.Descriptors()
	out := make([]planner.SkillDescriptor, 0, len(descs))
	for _, d := range descs {
		params := make([]string, 0, len(d.Parameters))
		for _, p := range d.Parameters {
			params = append(params, p.Name)
		}
		out = append(out, planner.SkillDescriptor{Name: d.FunctionName, Description: d.Description, Params: params})
	}
	return out
}

// confirmOnStdin prompts on stdin before a sensitive action dispatches, or
// returns nil (no confirmation gate) when the config disables it.
func confirmOnStdin(enabled bool) action.ConfirmFunc {
	if !enabled {
		return nil
	}
	return func(ctx context.Context, message string) bool {
		fmt.Printf("%s [y/N] ", message)
		var answer string
		_, _ = fmt.Scanln(&answer)
		return answer == "y" || answer == "Y"
	}
}

// takeoverOnStdin blocks on stdin until the operator hands control back,
// the default takeover callback (§4.4 dispatch table: Take_over "calls
// takeover callback").
func takeoverOnStdin(ctx context.Context, message string) {
	fmt.Printf("%s\npress enter once you've taken over... ", message)
	var discard string
	_, _ = fmt.Scanln(&discard)
}

// resolveDeviceController maps a transport name to a DeviceController
// implementation. Transport drivers (Android-USB/Harmony/iOS-WDA) are
// explicitly out of scope for this module -- DeviceController is consumed
// purely as a capability interface (C1) -- so every known name surfaces a
// clear error rather than silently no-opping against a fake device.
func resolveDeviceController(cfg config.DeviceConfig) (device.Controller, error) {
	switch cfg.Transport {
	case "android-usb", "harmony", "ios-wda":
		return nil, fmt.Errorf("device transport %q has no bundled driver in this build; implement device.Controller and wire it in", cfg.Transport)
	default:
		return nil, fmt.Errorf("unknown device transport %q", cfg.Transport)
	}
}
