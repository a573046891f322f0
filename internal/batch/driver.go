package batch

import (
	"context"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/logging"
)

// Finalizer finalizes one batch file. Implemented by Runner.
type Finalizer interface {
	Finalize(ctx context.Context, f *File) (domain.BatchRecord, error)
}

// Processed is the outcome of one inbox file
type Processed struct {
	Path    string
	Settled string
	Record  domain.BatchRecord
	Err     error
}

// Driver feeds inbox batch files to a Finalizer, strictly one at a time
type Driver struct {
	inbox     *Inbox
	finalizer Finalizer
	sweeper   *Sweeper
	logger    *logging.Logger
	debounce  time.Duration
	onBatch   func(Processed)
}

// NewDriver creates a Driver. sweeper may be nil to rely on the watcher alone.
func NewDriver(inbox *Inbox, finalizer Finalizer, sweeper *Sweeper, logger *logging.Logger) *Driver {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Driver{
		inbox:     inbox,
		finalizer: finalizer,
		sweeper:   sweeper,
		logger:    logger,
		debounce:  500 * time.Millisecond,
	}
}

// SetDebounce sets how long the watcher waits for a burst of writes to settle
func (d *Driver) SetDebounce(debounce time.Duration) {
	d.debounce = debounce
}

// OnBatch registers a callback invoked after each processed file
func (d *Driver) OnBatch(fn func(Processed)) {
	d.onBatch = fn
}

// Run processes the inbox until ctx is cancelled. The watcher and the sweep
// schedule only signal; a single worker goroutine does the finalizing so two
// batches of one run never overlap.
func (d *Driver) Run(ctx context.Context) error {
	trigger := make(chan struct{}, 1)
	signal := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	watcher, err := NewWatcher(d.inbox.Dir(), signal, d.logger)
	if err != nil {
		return err
	}
	watcher.SetDebounce(d.debounce)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(gctx)
	})
	if d.sweeper != nil {
		g.Go(func() error {
			return d.sweeper.Run(gctx, signal)
		})
	}
	g.Go(func() error {
		d.logger.Info("inbox driver started", "dir", d.inbox.Dir())
		d.ProcessPending(gctx)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-trigger:
				d.ProcessPending(gctx)
			}
		}
	})

	err = g.Wait()
	d.logger.Info("inbox driver stopped")
	return err
}

// ProcessPending finalizes every batch file currently in the inbox, lowest
// batch id first, and settles each into done or failed
func (d *Driver) ProcessPending(ctx context.Context) []Processed {
	paths, err := d.inbox.Pending()
	if err != nil {
		d.logger.Error("listing inbox failed", "dir", d.inbox.Dir(), "error", err)
		return nil
	}

	var out []Processed
	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		p := d.process(ctx, path)
		out = append(out, p)
		if d.onBatch != nil {
			d.onBatch(p)
		}
	}
	return out
}

func (d *Driver) process(ctx context.Context, path string) Processed {
	p := Processed{Path: path}
	logger := d.logger.With("file", filepath.Base(path))

	f, err := d.inbox.Read(path)
	runID := ""
	if err == nil {
		runID = f.RunID
		p.Record, err = d.finalizer.Finalize(ctx, f)
	}
	p.Err = err

	outcome := OutcomeDone
	if err != nil {
		outcome = OutcomeFailed
		logger.Error("batch finalization failed", "error", err)
	} else {
		logger.Info("batch finalized", "run_id", runID, "batch_id", p.Record.BatchID, "status", p.Record.Status)
	}

	settled, serr := d.inbox.Settle(path, runID, outcome)
	if serr != nil {
		logger.Error("settling batch file failed", "outcome", outcome, "error", serr)
	}
	p.Settled = settled
	return p
}
