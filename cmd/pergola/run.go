package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/internal/cli"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/runner"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <graph.yaml>",
	Short: "Start a run of a graph",
	Long: `Starts a new run and drives it until it completes or suspends.

With --interactive every suspension is presented for review: enter key=value
lines to patch the state, an empty line to resume or "quit" to leave the run
suspended. With --auto interrupts are resumed unchanged.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := stateFlags(cmd)
		if err != nil {
			return err
		}
		runID, _ := cmd.Flags().GetString("run-id")
		return drive(cmd, args[0], runID, false, state)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <graph.yaml> <run-id>",
	Short: "Resume a suspended run",
	Long:  `Merges the --set patch into the latest checkpoint of the run and drives it again.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := stateFlags(cmd)
		if err != nil {
			return err
		}
		return drive(cmd, args[0], args[1], true, patch)
	},
}

func init() {
	for _, c := range []*cobra.Command{runCmd, resumeCmd} {
		c.Flags().StringArray("set", nil, "State assignment key=value (repeatable, values are YAML)")
		c.Flags().String("state", "", "State as a JSON object, applied before --set")
		c.Flags().BoolP("interactive", "i", false, "Review every suspension on the terminal")
		c.Flags().Bool("auto", false, "Resume interrupts unchanged")
		c.Flags().Int("max-rounds", 0, "Stop after this many resumes (0 means no limit)")
		c.Flags().StringP("output", "o", "text", "Output format: text or json")
		rootCmd.AddCommand(c)
	}
	runCmd.Flags().String("run-id", "", "Run identifier (generated when empty)")
}

// stateFlags merges --state and --set into one state update.
func stateFlags(cmd *cobra.Command) (domain.State, error) {
	var state domain.State
	if raw, _ := cmd.Flags().GetString("state"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			return nil, fmt.Errorf("error parsing --state JSON: %w", err)
		}
	}
	sets, _ := cmd.Flags().GetStringArray("set")
	assigned, err := runner.ParseAssignments(sets)
	if err != nil {
		return nil, err
	}
	if len(assigned) > 0 && state == nil {
		state = domain.State{}
	}
	for k, v := range assigned {
		state[k] = v
	}
	return state, nil
}

func drive(cmd *cobra.Command, graphPath, runID string, resume bool, state domain.State) error {
	env, err := openEnv(cmd, true, nil)
	if err != nil {
		return err
	}
	defer env.Close()

	eng, err := env.LoadEngine(graphPath)
	if err != nil {
		return err
	}

	interactive, _ := cmd.Flags().GetBool("interactive")
	auto, _ := cmd.Flags().GetBool("auto")
	output, _ := cmd.Flags().GetString("output")
	maxRounds, _ := cmd.Flags().GetInt("max-rounds")
	printer := cli.NewPrinter(cmd.OutOrStdout())

	var res *pergola.Result
	if !interactive && !auto {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if resume {
			res, err = eng.Resume(ctx, runID, state)
		} else {
			res, err = eng.Start(ctx, runID, state)
		}
	} else {
		opts := []runner.Option{
			runner.WithRunID(runID),
			runner.WithLogger(env.Logger),
			runner.WithMaxRounds(maxRounds),
		}
		if resume {
			opts = append(opts, runner.WithResume(state))
		} else {
			opts = append(opts, runner.WithInitialState(state))
		}
		if interactive {
			if output == "json" {
				opts = append(opts, runner.WithReviewer(runner.NewJSONReviewer(cmd.InOrStdin(), cmd.OutOrStdout())))
			} else {
				printer.Banner()
				opts = append(opts, runner.WithReviewer(runner.NewTextReviewer(cmd.InOrStdin(), cmd.OutOrStdout())))
			}
		}
		if auto {
			opts = append(opts, runner.WithPolicy(runner.AutoResume()))
		}
		res, err = runner.NewRunner(eng, opts...).Run(cmd.Context())
	}

	if res != nil {
		if output == "json" {
			if perr := printer.JSON(res); perr != nil && err == nil {
				err = perr
			}
		} else {
			printer.Result(res)
		}
	}
	return err
}
