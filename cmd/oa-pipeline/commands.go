package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/hochfrequenz/oa-pipeline/internal/domain"
	"github.com/hochfrequenz/oa-pipeline/internal/queue"
	"github.com/hochfrequenz/oa-pipeline/internal/runstore"
	"github.com/hochfrequenz/oa-pipeline/tui"
	"github.com/spf13/cobra"
)

var (
	processTUI   bool
	processLimit int
	historyLimit int
)

func init() {
	// import command
	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import questions from a backend JSON export",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	rootCmd.AddCommand(importCmd)

	// process command
	processCmd := &cobra.Command{
		Use:   "process [FILE]",
		Short: "Generate and save solutions for questions",
		Long: `Process every question in FILE, or the stored questions that have no
successful outcome yet when FILE is omitted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runProcess,
	}
	processCmd.Flags().BoolVar(&processTUI, "tui", false, "show the interactive run view")
	processCmd.Flags().IntVar(&processLimit, "limit", 0, "maximum number of stored questions to process")
	rootCmd.AddCommand(processCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history [RUN]",
		Short: "List past runs or show one run",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to list")
	rootCmd.AddCommand(historyCmd)
}

func readItems(path string) ([]domain.WorkItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return domain.ParseWorkItems(data)
}

func runImport(cmd *cobra.Command, args []string) error {
	items, err := readItems(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.UpsertItems(cmd.Context(), items); err != nil {
		return err
	}
	fmt.Printf("Imported %d questions from %s\n", len(items), args[0])
	return nil
}

func runProcess(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.requireBackend(); err != nil {
		return err
	}

	var (
		items  []domain.WorkItem
		source string
	)
	if len(args) == 1 {
		items, err = readItems(args[0])
		source = filepath.Base(args[0])
	} else {
		items, err = a.store.ListItems(cmd.Context(), runstore.ListOptions{OnlyPending: true, Limit: processLimit})
		source = "store"
	}
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("No questions to process")
		return nil
	}

	var extra []queue.Hooks
	if !processTUI {
		extra = append(extra, queue.Hooks{
			OnLog: func(e domain.LogEntry) { fmt.Println(e.String()) },
		})
	}

	r, err := a.newRun(cmd.Context(), items, source, true, extra...)
	if err != nil {
		return err
	}

	if processTUI {
		return runWithTUI(r)
	}

	// First interrupt stops the run; the in-flight call is abandoned.
	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		r.proc.Stop()
	}()

	if _, err := r.execute(context.Background()); err != nil {
		return err
	}
	printSummary(r.proc.Snapshot())
	return nil
}

func runWithTUI(r *run) error {
	m := tui.NewModel(tui.ModelConfig{Run: r.proc, Title: "OA Question Pipeline"})
	p := tea.NewProgram(m, tea.WithAltScreen())

	done := make(chan error, 1)
	go func() {
		_, err := r.execute(context.Background())
		p.Send(tui.RunDoneMsg{Err: err})
		done <- err
	}()

	if _, err := p.Run(); err != nil {
		r.proc.Stop()
		<-done
		return err
	}

	// Quitting the view stops an active run; wait for it to unwind.
	r.proc.Stop()
	err := <-done
	printSummary(r.proc.Snapshot())
	return err
}

func printSummary(snap domain.RunSnapshot) {
	succeeded, failed := snap.Counts()
	fmt.Printf("\nRun %s %s: %d succeeded, %d failed (%d of %d processed)\n",
		snap.RunID, snap.Phase, succeeded, failed, len(snap.Outcomes), snap.Total)
	for _, o := range snap.Outcomes {
		if o.Status == domain.OutcomeError {
			fmt.Printf("  ✗ %s: %s\n", o.ItemID, o.Message)
		}
	}
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if len(args) == 1 {
		return showRun(ctx, a.store, args[0])
	}

	runs, err := a.store.ListRuns(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tPHASE\tITEMS\tOK\tFAILED\tSTARTED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.Source, r.Phase, r.Total, r.Succeeded, r.Failed,
			humanize.Time(r.StartedAt), runDuration(r))
	}
	return w.Flush()
}

func runDuration(r *runstore.Run) string {
	if r.FinishedAt == nil {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
}

func showRun(ctx context.Context, store *runstore.Store, id string) error {
	r, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("Run:      %s\n", r.ID)
	fmt.Printf("Source:   %s\n", r.Source)
	fmt.Printf("Phase:    %s\n", r.Phase)
	fmt.Printf("Started:  %s (%s)\n", r.StartedAt.Format(time.RFC3339), humanize.Time(r.StartedAt))
	fmt.Printf("Duration: %s\n", runDuration(r))
	fmt.Printf("Items:    %d total, %d succeeded, %d failed\n", r.Total, r.Succeeded, r.Failed)

	outcomes, err := store.ListOutcomes(ctx, id)
	if err != nil {
		return err
	}
	if len(outcomes) > 0 {
		fmt.Println("\nOutcomes:")
		for _, o := range outcomes {
			mark := "✓"
			if o.Status == domain.OutcomeError {
				mark = "✗"
			}
			fmt.Printf("  %s %s: %s\n", mark, o.ItemID, o.Message)
		}
	}

	entries, err := store.ListLogs(ctx, id)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		fmt.Println("\nLog:")
		for _, e := range entries {
			fmt.Println("  " + e.String())
		}
	}
	return nil
}
