package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/droidpilot/droidpilot/internal/agent"
	"github.com/droidpilot/droidpilot/internal/config"
	"github.com/droidpilot/droidpilot/internal/device"
	"github.com/droidpilot/droidpilot/internal/observability"
	"github.com/droidpilot/droidpilot/internal/safety"
	"github.com/droidpilot/droidpilot/internal/skills"
	"github.com/droidpilot/droidpilot/internal/vlm"
)

// defaultApps is the built-in display-name inventory. The config file can
// extend it, but these cover what most instructions reach for.
var defaultApps = map[string]string{
	"settings": "com.android.settings",
	"chrome":   "com.android.chrome",
	"camera":   "com.android.camera2",
	"contacts": "com.android.contacts",
	"messages": "com.google.android.apps.messaging",
	"clock":    "com.android.deskclock",
	"files":    "com.android.documentsui",
	"maps":     "com.google.android.apps.maps",
	"gmail":    "com.google.android.gm",
	"youtube":  "com.google.android.youtube",
}

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run \"instruction\"",
		Short: "Executes one natural-language instruction against the connected phone",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their viper keys so command-line values override
			// the config file and environment with the right precedence.
			if err := viper.BindPFlag("vlm.mode", cmd.Flags().Lookup("mode")); err != nil {
				return err
			}
			if err := viper.BindPFlag("agent.max_steps", cmd.Flags().Lookup("max-steps")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg := appConfig
			// Re-unmarshal so the flag overrides bound in PreRunE apply.
			if err := viper.Unmarshal(cfg); err != nil {
				return fmt.Errorf("failed to re-unmarshal config with flag overrides: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			instruction := strings.TrimSpace(strings.Join(args, " "))
			if instruction == "" {
				return errors.New("instruction must not be empty")
			}
			extendedMemory := viper.GetBool("extended-memory")

			logger.Info("Starting instruction run",
				zap.String("instruction", instruction),
				zap.String("mode", string(cfg.VLM.Mode)),
				zap.Int("max_steps", cfg.Agent.MaxSteps),
				zap.Bool("extended_memory", extendedMemory),
			)

			orch, err := buildOrchestrator(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}

			// First interrupt asks the loop to wind down; a second one tears
			// the whole context down.
			runCtx, hardCancel := context.WithCancel(ctx)
			defer hardCancel()

			g, gctx := errgroup.WithContext(runCtx)

			sigCh := make(chan os.Signal, 2)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return nil
				case <-sigCh:
					logger.Warn("Interrupt received, stopping after the current step (press again to abort)")
					orch.Stop()
				}
				select {
				case <-gctx.Done():
					return nil
				case <-sigCh:
					logger.Warn("Second interrupt received, aborting")
					hardCancel()
					return nil
				}
			})

			var result agent.AgentResult
			g.Go(func() error {
				defer hardCancel()
				var runErr error
				result, runErr = orch.RunInstruction(gctx, instruction, cfg.Agent.MaxSteps, extendedMemory)
				return runErr
			})

			if err := g.Wait(); err != nil {
				if errors.Is(err, context.Canceled) {
					return errors.New("run aborted by user signal")
				}
				return err
			}

			printRunSummary(orch, result)
			return nil
		},
	}

	runCmd.Flags().String("mode", "", "VLM mode to use: general, session or normalized. (Overrides config/env)")
	runCmd.Flags().IntP("max-steps", "n", 0, "Maximum number of loop steps. (Overrides config/env)")
	runCmd.Flags().Bool("extended-memory", false, "Keep the full running conversation across steps (general mode only).")

	return runCmd
}

// buildOrchestrator handles dependency injection for one run.
func buildOrchestrator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*agent.Orchestrator, error) {
	// 1. Device channel
	dev := device.NewADBController(logger, cfg.Device)
	dev.Probe(ctx)
	logger.Info("Device channel ready", zap.Stringer("privilege", dev.Privilege()))

	// 2. Skill collaborator
	var provider skills.Provider = skills.None{}
	if cfg.Skills.CatalogPath != "" {
		cat, err := skills.LoadCatalog(logger, cfg.Skills.CatalogPath)
		if err != nil {
			return nil, err
		}
		provider = cat
	}

	// 3. Mode strategy
	strategy, err := buildStrategy(ctx, cfg, logger, dev)
	if err != nil {
		return nil, err
	}

	// 4. Confirmation gate and inventory
	gate := &safety.StdioGate{In: os.Stdin, Out: os.Stdout}
	names := make([]string, 0, len(defaultApps))
	for name := range defaultApps {
		names = append(names, name)
	}

	return agent.NewOrchestrator(logger, cfg.Agent, dev, strategy, provider, gate, names), nil
}

// buildStrategy constructs the VLM client and strategy for the active mode.
func buildStrategy(ctx context.Context, cfg *config.Config, logger *zap.Logger, dev device.Controller) (agent.ModeStrategy, error) {
	ep := cfg.ActiveEndpoint()
	switch cfg.VLM.Mode {
	case config.ModeSession:
		client, err := vlm.NewSessionClient(ep, logger)
		if err != nil {
			return nil, err
		}
		return agent.NewSessionStrategy(logger, client, dev, defaultApps), nil
	case config.ModeNormalized:
		client, err := vlm.NewNormalizedClient(ep, logger)
		if err != nil {
			return nil, err
		}
		return agent.NewNormalizedStrategy(logger, client, dev, defaultApps, cfg.Agent.MemoryDepth), nil
	default:
		client, err := vlm.NewGeneralClient(ctx, ep, logger)
		if err != nil {
			return nil, err
		}
		return agent.NewGeneralStrategy(logger, client, dev, defaultApps, cfg.Agent.Notetaker), nil
	}
}

// printRunSummary renders the terminal result and the step transcript.
func printRunSummary(orch *agent.Orchestrator, result agent.AgentResult) {
	state := orch.State()

	fmt.Printf("\nRun finished: %s\n", state.Phase)
	if result.Message != "" {
		fmt.Println(result.Message)
	}
	if state.FinalAnswer != "" && state.FinalAnswer != result.Message {
		fmt.Printf("Answer: %s\n", state.FinalAnswer)
	}
	if len(state.Steps) > 0 {
		fmt.Println("\nSteps:")
		for _, step := range state.Steps {
			outcome := "pending"
			switch step.Outcome {
			case agent.OutcomeSuccess:
				outcome = "ok"
			case agent.OutcomeSoftFail:
				outcome = "issue"
			case agent.OutcomeHardFail:
				outcome = "failed"
			}
			fmt.Printf("  %2d. [%s] %s\n", step.Number, outcome, step.Description)
		}
	}
}
