package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/enrichment/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
	"github.com/jonesrussell/north-cloud/enrichment/internal/exporter"
)

const (
	formatTable = "table"
	formatCSV   = "csv"
	formatXLSX  = "xlsx"

	listLimit = 50
)

func newListCommand() *cobra.Command {
	var owner, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), func(rt *bootstrap.Runtime) error {
				runs, err := rt.Service.List(cmd.Context(), domain.RunFilter{
					Owner:  owner,
					Status: domain.RunStatus(status),
					Limit:  listLimit,
				})
				if err != nil {
					return err
				}
				renderRuns(cmd.OutOrStdout(), runs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "only runs of this owner")
	cmd.Flags().StringVar(&status, "status", "", "only runs in this status")
	return cmd
}

func renderRuns(w io.Writer, runs []*domain.Run) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Owner", "Status", "Progress", "Success", "Failed", "Created"})
	for _, run := range runs {
		t.AppendRow(table.Row{
			run.ID,
			run.Owner,
			run.Status,
			fmt.Sprintf("%d/%d", run.CurrentIndex, run.TotalCount),
			run.SuccessCount,
			run.FailedCount,
			run.CreatedAt.Format(time.RFC3339),
		})
	}
	t.Render()
}

func newResumeCommand() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Run a pending or interrupted run to completion in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(rt *bootstrap.Runtime) error {
				started, err := rt.Runner.Execute(cmd.Context(), args[0], concurrency)
				if err != nil {
					return err
				}
				if !started {
					return fmt.Errorf("run %s is finished or held by another runner", args[0])
				}
				run, err := rt.Service.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				renderRuns(cmd.OutOrStdout(), []*domain.Run{run})
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "items per wave (default: the run's own)")
	return cmd
}

func newExportCommand() *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Export run results as a table, CSV or XLSX",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != formatTable && format != formatCSV && format != formatXLSX {
				return fmt.Errorf("unknown format %q: use table, csv or xlsx", format)
			}
			return withRuntime(cmd.Context(), func(rt *bootstrap.Runtime) error {
				_, tbl, err := rt.Service.Export(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if output != "" {
					f, createErr := os.Create(output)
					if createErr != nil {
						return fmt.Errorf("create output: %w", createErr)
					}
					defer f.Close()
					w = f
				}
				return writeExport(w, format, tbl)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "table, csv or xlsx")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func writeExport(w io.Writer, format string, tbl exporter.Table) error {
	switch format {
	case formatCSV:
		return exporter.WriteCSV(w, tbl)
	case formatXLSX:
		return exporter.WriteXLSX(w, tbl)
	default:
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleLight)
		header := make(table.Row, len(tbl.Columns))
		for i, c := range tbl.Columns {
			header[i] = c
		}
		t.AppendHeader(header)
		for _, row := range tbl.Rows {
			r := make(table.Row, len(row))
			for i, v := range row {
				r[i] = v
			}
			t.AppendRow(r)
		}
		t.AppendFooter(table.Row{"rows", strconv.Itoa(len(tbl.Rows))})
		t.Render()
		return nil
	}
}
