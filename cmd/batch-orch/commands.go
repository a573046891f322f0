package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/batch"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/config"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/events"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/taskstore"
)

var (
	submitRun    string
	submitBatch  int
	initForce    bool
	eventsFollow bool
)

func init() {
	// init command
	initCmd := &cobra.Command{
		Use:   "init [PATH]",
		Short: "Write a default config file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runInit,
	}
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
	rootCmd.AddCommand(initCmd)

	// submit command
	submitCmd := &cobra.Command{
		Use:   "submit RESULTS.json",
		Short: "Queue a batch of worker results in the inbox",
		Long: `Reads a JSON array of task results and writes it to the inbox as one batch.
Every result's task becomes part of the batch.`,
		Args: cobra.ExactArgs(1),
		RunE: runSubmit,
	}
	submitCmd.Flags().StringVar(&submitRun, "run", "", "run id (default: a new id)")
	submitCmd.Flags().IntVar(&submitBatch, "batch", 0, "batch id (default: next after the run's last batch)")
	rootCmd.AddCommand(submitCmd)

	// finalize command
	finalizeCmd := &cobra.Command{
		Use:   "finalize [BATCH.json]",
		Short: "Finalize a batch file, or everything pending in the inbox",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runFinalize,
	}
	rootCmd.AddCommand(finalizeCmd)

	// watch command
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the inbox and finalize batches as they arrive",
		RunE:  runWatch,
	}
	rootCmd.AddCommand(watchCmd)

	// status command
	statusCmd := &cobra.Command{
		Use:   "status [RUN]",
		Short: "Show runs, or the tasks and batches of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	// events command
	eventsCmd := &cobra.Command{
		Use:   "events RUN",
		Short: "Print the event log of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runEvents,
	}
	eventsCmd.Flags().BoolVarP(&eventsFollow, "follow", "f", false, "keep printing new events")
	rootCmd.AddCommand(eventsCmd)

	// ledger commands
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the completion ledger",
	}
	ledgerCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tasks recorded as landed",
		RunE:  runLedgerList,
	})
	ledgerCmd.AddCommand(&cobra.Command{
		Use:   "check TASK...",
		Short: "Report whether tasks already landed unchanged",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runLedgerCheck,
	})
	rootCmd.AddCommand(ledgerCmd)

	// stop / resume commands
	rootCmd.AddCommand(&cobra.Command{
		Use:   "stop RUN",
		Short: "Ask a run to stop; workspaces of later batches are kept",
		Args:  cobra.ExactArgs(1),
		RunE:  runStop,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "resume RUN",
		Short: "Withdraw a stop request",
		Args:  cobra.ExactArgs(1),
		RunE:  runResume,
	})
}

func runInit(cmd *cobra.Command, args []string) error {
	path := config.DefaultConfigPath()
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	cfg := config.Default()
	if wd, err := os.Getwd(); err == nil {
		cfg.General.ProjectRoot = wd
		cfg.General.Project = filepath.Base(wd)
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var results []domain.TaskResult
	if err := json.Unmarshal(data, &results); err != nil {
		return fmt.Errorf("decoding %s: %w", args[0], err)
	}

	runID := submitRun
	if runID == "" {
		runID = uuid.New().String()
	}
	batchID := submitBatch
	if batchID == 0 {
		batchID, err = nextBatchID(a.store, runID)
		if err != nil {
			return err
		}
	}

	f := &batch.File{RunID: runID, BatchID: batchID, Results: results}
	for _, r := range results {
		f.Tasks = append(f.Tasks, r.TaskID)
	}
	path, err := batch.NewInbox(a.cfg.Schedule.InboxDir).Write(f)
	if err != nil {
		return err
	}
	fmt.Printf("Queued run %s batch %d (%d tasks) at %s\n", runID, batchID, len(f.Tasks), path)
	return nil
}

func nextBatchID(store *taskstore.Store, runID string) (int, error) {
	state, err := store.Load(runID)
	if errors.Is(err, taskstore.ErrRunNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if last := state.LastBatch(); last != nil {
		return last.BatchID + 1, nil
	}
	return 1, nil
}

func runFinalize(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := a.runner(a.eventSinks())
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if len(args) == 1 {
		inbox := batch.NewInbox(filepath.Dir(args[0]))
		f, err := inbox.Read(args[0])
		if err != nil {
			return err
		}
		rec, err := runner.Finalize(ctx, f)
		if err != nil {
			return err
		}
		printRecord(f.RunID, rec)
		return nil
	}

	driver := batch.NewDriver(batch.NewInbox(a.cfg.Schedule.InboxDir), runner, nil, a.logger)
	processed := driver.ProcessPending(ctx)
	if len(processed) == 0 {
		fmt.Println("No batches pending")
		return nil
	}
	var failed int
	for _, p := range processed {
		if p.Err != nil {
			failed++
			fmt.Printf("%s %s: %v\n", errorStyle.Render("failed"), filepath.Base(p.Path), p.Err)
			continue
		}
		printRecord("", p.Record)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d batches failed", failed, len(processed))
	}
	return nil
}

func printRecord(runID string, rec domain.BatchRecord) {
	prefix := fmt.Sprintf("batch %d", rec.BatchID)
	if runID != "" {
		prefix = fmt.Sprintf("run %s %s", runID, prefix)
	}
	fmt.Printf("%s: %s, %d tasks, merge %s, doctor %s, canary %s\n",
		prefix,
		statusStyle(string(rec.Status)).Render(string(rec.Status)),
		len(rec.Tasks),
		shortSHA(rec.MergeCommit),
		formatDoctor(rec.IntegrationDoctorPassed),
		formatCanary(rec.Canary))
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	hub := events.NewHub(a.logger)
	runner, err := a.runner(a.eventSinks(hub))
	if err != nil {
		return err
	}
	sweeper, err := batch.NewSweeper(a.cfg.Schedule.Cron)
	if err != nil {
		return fmt.Errorf("schedule.cron: %w", err)
	}
	driver := batch.NewDriver(batch.NewInbox(a.cfg.Schedule.InboxDir), runner, sweeper, a.logger)
	driver.OnBatch(func(p batch.Processed) {
		if p.Err == nil {
			printRecord("", p.Record)
		}
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return driver.Run(gctx) })

	if addr := a.cfg.Events.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/events", hub)
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			a.logger.Info("event stream listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	fmt.Printf("Watching %s (sweep %s, next %s)\n", a.cfg.Schedule.InboxDir, sweeper.Expr(),
		humanize.Time(sweeper.NextRun(time.Now())))
	return g.Wait()
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 1 {
		state, err := a.store.Load(args[0])
		if err != nil {
			return err
		}
		batches, err := a.store.ListBatches(state.RunID)
		if err != nil {
			return err
		}
		fmt.Print(renderRun(state, batches, time.Now()))
		if a.stopFile().StopRequested(state.RunID) {
			fmt.Println(warningStyle.Render("stop requested"))
		}
		return nil
	}

	runs, err := a.store.ListRuns(a.cfg.General.Project)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tPROJECT\tSTATUS\tUPDATED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Project, r.Status, humanize.Time(r.UpdatedAt))
	}
	return w.Flush()
}

func runEvents(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sink := a.jsonl()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	seen := 0
	for {
		evs, err := sink.Read(args[0])
		if err != nil {
			return err
		}
		for _, e := range evs[seen:] {
			fmt.Println(renderEvent(e))
		}
		seen = len(evs)
		if !eventsFollow {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

func runLedgerList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.ledger().List(a.cfg.General.Project)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("Ledger is empty")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tCOMMIT\tDOCTOR\tRUN\tLANDED")
	for _, e := range entries {
		doctor := "failed"
		if e.IntegrationDoctorPassed {
			doctor = "passed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.TaskID, shortSHA(e.MergeCommit), doctor, e.RunID, humanize.Time(e.CompletedAt))
	}
	return w.Flush()
}

func runLedgerCheck(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireProject(); err != nil {
		return err
	}

	layout := a.layout()
	led := a.ledger()
	for _, arg := range args {
		id, err := domain.ParseTaskID(arg)
		if err != nil {
			return err
		}
		spec, err := layout.Load(id)
		if err != nil {
			fmt.Printf("%s: %s\n", id, errorStyle.Render(err.Error()))
			continue
		}
		entry, current, err := led.Lookup(a.cfg.General.Project, spec)
		switch {
		case err != nil:
			fmt.Printf("%s: %s\n", id, errorStyle.Render(err.Error()))
		case entry == nil:
			fmt.Printf("%s: %s\n", id, dimmedStyle.Render("not landed"))
		case current:
			fmt.Printf("%s: %s in %s (%s)\n", id, okStyle.Render("landed"), shortSHA(entry.MergeCommit), humanize.Time(entry.CompletedAt))
		default:
			fmt.Printf("%s: %s since landing in %s\n", id, warningStyle.Render("changed"), shortSHA(entry.MergeCommit))
		}
	}
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.stopFile().Request(args[0]); err != nil {
		return err
	}
	fmt.Printf("Stop requested for run %s\n", args[0])
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.stopFile().Clear(args[0]); err != nil {
		return err
	}
	fmt.Printf("Stop request cleared for run %s\n", args[0])
	return nil
}
