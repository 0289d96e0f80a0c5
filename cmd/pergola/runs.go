package main

import (
	"fmt"
	"sort"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/internal/cli"
	"github.com/aretw0/pergola/pkg/runs"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List and delete stored runs",
}

var runsListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List runs with their latest status",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv(cmd, true, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		ctx := cmd.Context()
		ids, err := env.Store.List(ctx)
		if err != nil {
			return err
		}
		sort.Strings(ids)
		latest := make([]*pergola.Snapshot, 0, len(ids))
		for _, id := range ids {
			cp, err := env.Store.LoadLatest(ctx, id)
			if err != nil {
				env.Logger.Warn("skipping unreadable run", "run_id", id, "err", err)
				continue
			}
			latest = append(latest, pergola.SnapshotOf(cp))
		}
		return render(cmd, func(p *cli.Printer) {
			if len(latest) == 0 {
				fmt.Fprintln(p.Writer(), "No runs.")
				return
			}
			for _, s := range latest {
				fmt.Fprintf(p.Writer(), "%-24s step %-4d %-10s next=%s\n", s.RunID, s.Step, p.Status(s.Status), s.Next)
			}
		}, latest)
	},
}

var runsRemoveCmd = &cobra.Command{
	Use:     "rm <run-id>...",
	Aliases: []string{"delete"},
	Short:   "Delete runs and all their checkpoints",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv(cmd, true, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		mgr := runs.NewManager(env.Store, runs.WithLocker(env.Locker), runs.WithLogger(env.Logger))
		for _, id := range args {
			if err := mgr.Delete(cmd.Context(), id); err != nil {
				return fmt.Errorf("delete %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
		}
		return nil
	},
}

func init() {
	runsListCmd.Flags().StringP("output", "o", "text", "Output format: text or json")
	runsCmd.AddCommand(runsListCmd, runsRemoveCmd)
	rootCmd.AddCommand(runsCmd)
}
