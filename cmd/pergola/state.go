package main

import (
	"errors"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/internal/cli"
	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and patch run state",
}

var stateShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the latest checkpoint of a run, or --step N",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv(cmd, true, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		ctx := cmd.Context()
		cp, err := env.Store.LoadLatest(ctx, args[0])
		if step, _ := cmd.Flags().GetInt("step"); err == nil && step >= 0 {
			cp, err = env.Store.LoadAt(ctx, args[0], step)
		}
		if err != nil {
			return err
		}
		return render(cmd, func(p *cli.Printer) { p.Snapshot(pergola.SnapshotOf(cp)) }, pergola.SnapshotOf(cp))
	},
}

var stateHistoryCmd = &cobra.Command{
	Use:   "history <run-id>",
	Short: "List every checkpoint of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv(cmd, true, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		cps, err := env.Store.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		history := make([]*pergola.Snapshot, len(cps))
		for i, cp := range cps {
			history[i] = pergola.SnapshotOf(cp)
		}
		return render(cmd, func(p *cli.Printer) { p.History(history) }, history)
	},
}

var statePatchCmd = &cobra.Command{
	Use:   "patch <graph.yaml> <run-id>",
	Short: "Merge --set assignments into the latest checkpoint without running",
	Long: `Applies the assignments to the latest checkpoint in place, following the
graph's merge rules. The run is not advanced; use resume for that.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := stateFlags(cmd)
		if err != nil {
			return err
		}
		if len(patch) == 0 {
			return errors.New("nothing to patch: pass --set key=value or --state")
		}
		env, err := openEnv(cmd, true, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		eng, err := env.LoadEngine(args[0])
		if err != nil {
			return err
		}
		diff, err := eng.PatchState(cmd.Context(), args[1], patch)
		if err != nil {
			return err
		}
		return render(cmd, func(p *cli.Printer) { p.Diff(diff) }, diff)
	},
}

func init() {
	stateShowCmd.Flags().Int("step", -1, "Checkpoint step to show instead of the latest")
	statePatchCmd.Flags().StringArray("set", nil, "State assignment key=value (repeatable, values are YAML)")
	statePatchCmd.Flags().String("state", "", "State as a JSON object, applied before --set")
	for _, c := range []*cobra.Command{stateShowCmd, stateHistoryCmd, statePatchCmd} {
		c.Flags().StringP("output", "o", "text", "Output format: text or json")
		stateCmd.AddCommand(c)
	}
	rootCmd.AddCommand(stateCmd)
}

// render prints text through the printer or v as JSON when --output json.
func render(cmd *cobra.Command, text func(*cli.Printer), v any) error {
	p := cli.NewPrinter(cmd.OutOrStdout())
	if output, _ := cmd.Flags().GetString("output"); output == "json" {
		return p.JSON(v)
	}
	text(p)
	return nil
}
