package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/motion.capture/internal/journal"
)

func newJournalCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect and maintain the stroke journal",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "journal.db", "path to the journal database")

	var (
		session string
		limit   int
		table   string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent strokes, combinations or jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := journal.Open(dbPath)
			if err != nil {
				return err
			}
			defer j.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer w.Flush()
			ctx := cmd.Context()

			switch table {
			case "strokes":
				rows, err := j.Strokes(ctx, session, limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "RECORDED\tSESSION\tPART\tTARGET\tSAMPLES\tGESTURE\tSIMILARITY\tSTATUS")
				for _, r := range rows {
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%.3f\t%d\n",
						r.RecordedAt.Format(time.RFC3339), r.SessionID, r.Part, r.Target, r.SampleCount, r.GestureID, r.Similarity, r.Status)
				}
			case "combinations":
				rows, err := j.Combinations(ctx, session, limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "RECORDED\tSESSION\tCOMBINATION\tPARTS\tSIMILARITY\tSTATUS")
				for _, r := range rows {
					fmt.Fprintf(w, "%s\t%s\t%d\t%v\t%.3f\t%d\n",
						r.RecordedAt.Format(time.RFC3339), r.SessionID, r.CombinationID, r.PartGestures, r.Similarity, r.Status)
				}
			case "jobs":
				rows, err := j.Jobs(ctx, limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "STARTED\tJOB\tKIND\tSOURCE\tSTATE\tRESULT\tPROGRESS")
				for _, r := range rows {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%.0f%%\n",
						r.StartedAt.Format(time.RFC3339), r.JobID, r.Kind, r.Source, r.State, r.Result, r.Progress)
				}
			default:
				return fmt.Errorf("unknown table %q: expected strokes, combinations or jobs", table)
			}
			return nil
		},
	}
	list.Flags().StringVar(&session, "session", "", "only entries from this session")
	list.Flags().IntVar(&limit, "limit", 20, "maximum rows, 0 for all")
	list.Flags().StringVar(&table, "table", "strokes", "strokes, combinations or jobs")

	var (
		down   bool
		force  int
		status bool
	)
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the journal schema (up by default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := journal.OpenDB(dbPath)
			if err != nil {
				return err
			}
			defer j.Close()

			switch {
			case status:
			case cmd.Flags().Changed("force"):
				if err := j.MigrateForce(force); err != nil {
					return err
				}
			case down:
				if err := j.MigrateDown(); err != nil {
					return err
				}
			default:
				if err := j.MigrateUp(); err != nil {
					return err
				}
			}

			version, dirty, err := j.MigrateVersion()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}
	migrateCmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	migrateCmd.Flags().IntVar(&force, "force", 0, "force the recorded version without running migrations")
	migrateCmd.Flags().BoolVar(&status, "status", false, "only print the current version")

	cmd.AddCommand(list, migrateCmd)
	return cmd
}
