package cli

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/branchbot/prsweep/internal/history"
	"github.com/branchbot/prsweep/internal/report"
)

var (
	historyLimitFlag  int
	historyReportFlag bool
)

func init() {
	historyCmd.Flags().IntVar(&historyLimitFlag, "limit", 20, "Maximum number of runs to list")
	historyShowCmd.Flags().BoolVar(&historyReportFlag, "report", false, "Print the archived markdown report instead of the summary")
	historyCmd.AddCommand(historyShowCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past sweeps",
	Long: `Display recorded sweeps in a table, most recent first.

Every completed run is stored in a local SQLite database alongside a
markdown report. Use 'history show <id>' to replay one run.`,
	Example: `  prsweep history
  prsweep history --limit 5
  prsweep history show 12`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.NewStore(appConfig.History.DatabasePath())
		if err != nil {
			return fmt.Errorf("opening history database: %w", err)
		}
		defer store.Close()

		runs, err := store.ListRuns(historyLimitFlag)
		if err != nil {
			return fmt.Errorf("listing runs: %w", err)
		}

		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No recorded sweeps. Run one with: prsweep run")
			return nil
		}

		headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
		cellStyle := lipgloss.NewStyle().Padding(0, 1)

		rows := make([][]string, 0, len(runs))
		for _, r := range runs {
			rows = append(rows, []string{
				strconv.FormatInt(r.ID, 10),
				r.Repo,
				r.Started.Local().Format("2006-01-02 15:04"),
				strconv.Itoa(r.Total),
				strconv.Itoa(r.Merged),
				strconv.Itoa(r.Conflicted),
			})
		}

		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("RUN", "REPOSITORY", "STARTED", "PRS", "MERGED", "CONFLICTED").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			})

		fmt.Fprintln(cmd.OutOrStdout(), t)
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Replay one recorded sweep",
	Long: `Re-render the summary of a recorded sweep from the history database,
or print its archived markdown report with --report.`,
	Example: `  prsweep history show 12
  prsweep history show 12 --report`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid run id %q", args[0])
		}

		if historyReportFlag {
			archive := report.NewArchive(appConfig.History.ReportsDir())
			doc, err := archive.ReadRun(id)
			if err != nil {
				return fmt.Errorf("reading report for run %d: %w", id, err)
			}
			fmt.Fprint(cmd.OutOrStdout(), doc.Body)
			return nil
		}

		store, err := history.NewStore(appConfig.History.DatabasePath())
		if err != nil {
			return fmt.Errorf("opening history database: %w", err)
		}
		defer store.Close()

		sum, err := store.GetSummary(id)
		if err != nil {
			return err
		}

		sum.WriteText(cmd.OutOrStdout())
		return nil
	},
}
