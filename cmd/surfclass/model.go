package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/GrainArc/Surfclass"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newModelCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Inspect trained models",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "info MODEL",
		Short: "Print model metadata as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rf, err := Surfclass.LoadModel(args[0])
			if err != nil {
				return err
			}
			summary := rf.Summarize(filepath.Base(args[0]))
			if s, err := Surfclass.ReadModelSummary(Surfclass.SummaryPath(args[0])); err == nil {
				summary = *s
			} else if !errors.Is(err, os.ErrNotExist) {
				a.log.Warnf("ignoring model summary: %v", err)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(&summary); err != nil {
				return err
			}
			return enc.Close()
		},
	})
	return cmd
}

func newRunsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent classification runs from the run ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.ledger == nil {
				return errors.New("no run ledger configured, use --ledger or set ledger in the config file")
			}
			runs, err := a.ledger.Recent(limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tSTATE\tPRESET\tWINDOW\tPIXELS\tOUTPUT")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dx%d\t%d\t%s\n",
					r.ID, r.StartedAt.Local().Format(time.DateTime), r.State, r.Preset,
					r.WindowWidth, r.WindowHeight, r.ValidPixels, r.OutputPath)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show, 0 for all")
	return cmd
}
