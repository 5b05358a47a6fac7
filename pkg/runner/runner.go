// Package runner drives one comparison run from validation to report.
package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yuya-takeyama/sumcompare/internal/backup"
	"github.com/yuya-takeyama/sumcompare/internal/config"
	"github.com/yuya-takeyama/sumcompare/internal/errors"
	"github.com/yuya-takeyama/sumcompare/internal/filelock"
	"github.com/yuya-takeyama/sumcompare/internal/logging"
	"github.com/yuya-takeyama/sumcompare/internal/media"
	"github.com/yuya-takeyama/sumcompare/internal/registry"
	"github.com/yuya-takeyama/sumcompare/internal/walker"
	"github.com/yuya-takeyama/sumcompare/internal/worker"
	"github.com/yuya-takeyama/sumcompare/pkg/executor"
	"github.com/yuya-takeyama/sumcompare/pkg/logger"
	"github.com/yuya-takeyama/sumcompare/pkg/planner"
	"github.com/yuya-takeyama/sumcompare/pkg/resolver"
)

const (
	PhaseBackup  = "backup"
	PhaseScan    = "scan"
	PhaseProcess = "process"
	PhaseCopy    = "copy"
)

// Backupper archives the SOURCE file list before anything is copied.
type Backupper interface {
	Backup(ctx context.Context, root string, files []walker.FileInfo) (backup.Result, error)
}

// Reporter persists the finished report.
type Reporter interface {
	Write(ctx context.Context, r *planner.Report) error
}

type Options struct {
	Config *config.Config
	// Backupper is used when Config.Backup.Enabled is set.
	Backupper Backupper
	// Reporter is used when set, whatever Config.Report says.
	Reporter Reporter
	// Extractor reads media creation dates for date folders.
	Extractor media.DateExtractor
	// Resolver overrides the destination resolver built from Config.
	Resolver planner.PathResolver
	Logger   logger.Logger
	Log      zerolog.Logger
}

// Runner executes a single run. It is not reusable.
type Runner struct {
	opts  Options
	runID string

	mu    sync.Mutex
	state planner.State
}

func New(opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = &logger.NullLogger{}
	}
	return &Runner{
		opts:  opts,
		runID: uuid.NewString(),
		state: planner.StateInit,
	}
}

func (r *Runner) RunID() string {
	return r.runID
}

func (r *Runner) State() planner.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s planner.State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	r.opts.Log.Debug().Str("run_id", r.runID).Str("state", string(s)).Msg("State changed")
}

// Run executes the run. The returned report is never nil; on error it holds
// whatever was collected before the run stopped. Cancelling ctx stops the
// run between files and returns an ErrCancelled error.
func (r *Runner) Run(ctx context.Context) (*planner.Report, error) {
	cfg := r.opts.Config
	started := time.Now()
	log := r.opts.Log.With().Str("run_id", r.runID).Logger()

	rep := &planner.Report{
		RunID:     r.runID,
		Source:    cfg.Source,
		Target:    cfg.Target,
		Algorithm: string(cfg.Algorithm),
		Summary:   planner.Summary{State: planner.StateInit, DryRun: cfg.DryRun, StartedAt: started},
	}
	// stop ends the run without a report: ABORTED before any I/O, FAILED or
	// CANCELLED after.
	stop := func(state planner.State, err error) (*planner.Report, error) {
		r.setState(state)
		rep.Summary.State = state
		rep.Summary.FinishedAt = time.Now()
		rep.Summary.Duration = rep.Summary.FinishedAt.Sub(started)
		return rep, err
	}
	abort := func(err error) (*planner.Report, error) {
		return stop(planner.StateAborted, err)
	}
	fail := func(err error) (*planner.Report, error) {
		return stop(terminalState(err), err)
	}

	// INIT
	if err := cfg.Validate(); err != nil {
		return abort(err)
	}
	source, err := filepath.Abs(cfg.Source)
	if err != nil {
		return abort(errors.Wrap(err, errors.ErrRootNotFound, "failed to resolve source"))
	}
	target, err := filepath.Abs(cfg.Target)
	if err != nil {
		return abort(errors.Wrap(err, errors.ErrRootNotFound, "failed to resolve target"))
	}
	rep.Source, rep.Target = source, target

	if !cfg.DryRun && !cfg.SelfCheck {
		lock, err := filelock.ForTarget(target)
		if err != nil {
			return fail(errors.Wrap(err, errors.ErrInternal, "failed to prepare target lock"))
		}
		if err := lock.TryLock(); err != nil {
			return fail(err)
		}
		defer lock.Unlock()
	}
	log.Info().Str("source", source).Str("target", target).Str("algorithm", rep.Algorithm).
		Bool("dry_run", cfg.DryRun).Msg("Run started")

	pool := worker.NewPool(cfg.Concurrency)
	reg := registry.New()
	results := planner.NewResults()

	sourceWalker, targetWalker, err := r.walkers(source, target)
	if err != nil {
		return fail(errors.Wrap(err, errors.ErrInternal, "failed to prepare walkers"))
	}

	// BACKUP
	var sourceFiles []walker.FileInfo
	if cfg.Backup.Enabled && r.opts.Backupper != nil && !cfg.SelfCheck {
		r.setState(planner.StateBackup)
		rep.Summary.State = planner.StateBackup
		sourceFiles, err = sourceWalker.WalkParallel(ctx, cfg.ScanWorkers)
		if err != nil {
			return fail(r.walkError(ctx, err, "source"))
		}
		done := logging.LogOperationStart(log, PhaseBackup)
		r.opts.Logger.PhaseStart(PhaseBackup, len(sourceFiles))
		res, err := r.opts.Backupper.Backup(ctx, source, sourceFiles)
		done()
		if err != nil {
			r.opts.Logger.Error(PhaseBackup, source, err)
			if ctx.Err() != nil {
				return fail(errors.Wrap(context.Cause(ctx), errors.ErrCancelled, "run cancelled during backup"))
			}
			return fail(errors.Wrap(err, errors.ErrBackup, "backup failed"))
		}
		log.Info().Str("archive", res.Path).Str("location", res.Location).Int("files", res.Files).Msg("Backup complete")
		r.opts.Logger.PhaseComplete(PhaseBackup, res.Files)
	}

	// SCANNING
	r.setState(planner.StateScanning)
	rep.Summary.State = planner.StateScanning
	done := logging.LogOperationStart(log, PhaseScan)
	targetFiles, walkedSource, err := r.scan(ctx, pool, reg, results, sourceWalker, targetWalker, sourceFiles == nil && !cfg.SelfCheck)
	done()
	if err != nil {
		if ctx.Err() != nil {
			return r.finish(ctx, rep, results, started, errors.Wrap(context.Cause(ctx), errors.ErrCancelled, "run cancelled while scanning"))
		}
		return fail(err)
	}
	if walkedSource != nil {
		sourceFiles = walkedSource
	}
	rep.Summary.TargetFiles = len(targetFiles)
	rep.Summary.SourceFiles = len(sourceFiles)
	rep.Summary.Skipped = sourceWalker.Skipped() + targetWalker.Skipped()

	// PROCESSING
	if !cfg.SelfCheck {
		r.setState(planner.StateProcessing)
		rep.Summary.State = planner.StateProcessing
		done := logging.LogOperationStart(log, PhaseProcess)
		stats := r.process(ctx, pool, reg, results, source, target, sourceFiles)
		done()
		rep.Summary.Cancelled = stats.Cancelled
		if stats.Cancelled > 0 || ctx.Err() != nil {
			return r.finish(ctx, rep, results, started, errors.Wrap(context.Cause(ctx), errors.ErrCancelled, "run cancelled while processing"))
		}
	}

	return r.finish(ctx, rep, results, started, nil)
}

// finish fills the report from results, writes it and picks the error the
// run ends with. A report is written even for a cancelled run.
func (r *Runner) finish(ctx context.Context, rep *planner.Report, results *planner.Results, started time.Time, runErr error) (*planner.Report, error) {
	snap := results.Snapshot()
	rep.Copies = snap.Copies
	rep.Duplicates = snap.Duplicates
	rep.Collisions = snap.Collisions
	rep.Failures = snap.Failures

	s := &rep.Summary
	s.Copied = len(snap.Copies)
	s.BytesCopied = snap.BytesCopied
	s.Duplicates = len(snap.Duplicates)
	s.Suppressed = snap.Suppressed
	s.Collisions = len(snap.Collisions)
	s.Errors = len(snap.Failures)

	final := terminalState(runErr)

	if r.opts.Reporter != nil {
		r.setState(planner.StateReporting)
		s.State = final
		s.FinishedAt = time.Now()
		s.Duration = s.FinishedAt.Sub(started)
		if err := r.opts.Reporter.Write(context.WithoutCancel(ctx), rep); err != nil && runErr == nil {
			runErr = errors.Wrap(err, errors.ErrReport, "failed to write report")
		}
	}

	r.setState(final)
	s.State = final
	s.FinishedAt = time.Now()
	s.Duration = s.FinishedAt.Sub(started)

	r.opts.Log.Info().Str("run_id", rep.RunID).Str("state", string(final)).
		Int("copied", s.Copied).Int("duplicates", s.Duplicates).Int("collisions", s.Collisions).
		Int("errors", s.Errors).Dur("duration", s.Duration).Msg("Run finished")

	if runErr != nil {
		return rep, runErr
	}
	if s.Errors > 0 {
		return rep, errors.Newf(errors.ErrPartial, "%d files failed", s.Errors).WithDetail("failures", s.Errors)
	}
	return rep, nil
}

// terminalState is the state a run that got past validation ends in.
func terminalState(err error) planner.State {
	switch {
	case err == nil:
		return planner.StateDone
	case errors.IsCode(err, errors.ErrCancelled):
		return planner.StateCancelled
	default:
		return planner.StateFailed
	}
}

// walkers builds the SOURCE and TARGET walkers. When one root is nested in
// the other, the outer walk skips the inner root so no file is seen from
// both sides.
func (r *Runner) walkers(source, target string) (*walker.Walker, *walker.Walker, error) {
	cfg := r.opts.Config
	srcOpts := walker.Options{Excludes: cfg.Excludes}
	dstOpts := walker.Options{Excludes: cfg.Excludes}
	if !cfg.SelfCheck && source != target {
		if walker.IsWithin(target, source) {
			srcOpts.SkipDirs = []string{target}
		}
		if walker.IsWithin(source, target) {
			dstOpts.SkipDirs = []string{source}
		}
	}

	sw, err := walker.NewWalker(source, srcOpts)
	if err != nil {
		return nil, nil, err
	}
	tw, err := walker.NewWalker(target, dstOpts)
	if err != nil {
		return nil, nil, err
	}
	return sw, tw, nil
}

func (r *Runner) walkError(ctx context.Context, err error, side string) error {
	if ctx.Err() != nil {
		return errors.Wrap(context.Cause(ctx), errors.ErrCancelled, "run cancelled while scanning")
	}
	return errors.Wrapf(err, errors.ErrInternal, "failed to enumerate %s", side)
}

// scan indexes TARGET and, when walkSource is set, enumerates SOURCE at the
// same time. Both must finish before processing starts.
func (r *Runner) scan(ctx context.Context, pool *worker.Pool, reg *registry.Registry, results *planner.Results,
	sourceWalker, targetWalker *walker.Walker, walkSource bool,
) ([]walker.FileInfo, []walker.FileInfo, error) {
	cfg := r.opts.Config
	var (
		wg                       sync.WaitGroup
		targetFiles, sourceFiles []walker.FileInfo
		targetErr, sourceErr     error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.opts.Logger.PhaseStart(PhaseScan, 0)
		targetFiles, targetErr = targetWalker.WalkParallel(ctx, cfg.ScanWorkers)
		if targetErr != nil {
			targetErr = r.walkError(ctx, targetErr, "target")
			return
		}
		ix := &planner.TargetIndexer{
			Algorithm: cfg.Algorithm,
			Registry:  reg,
			Pool:      pool,
			Logger:    r.opts.Logger,
		}
		targetErr = ix.Index(ctx, targetFiles, results)
	}()

	if walkSource {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sourceFiles, sourceErr = sourceWalker.WalkParallel(ctx, cfg.ScanWorkers)
			if sourceErr != nil {
				sourceErr = r.walkError(ctx, sourceErr, "source")
			}
		}()
	}

	wg.Wait()
	if targetErr != nil {
		return nil, nil, targetErr
	}
	if sourceErr != nil {
		return nil, nil, sourceErr
	}
	r.opts.Logger.PhaseComplete(PhaseScan, len(targetFiles)+len(sourceFiles))
	return targetFiles, sourceFiles, nil
}

func (r *Runner) process(ctx context.Context, pool *worker.Pool, reg *registry.Registry, results *planner.Results,
	source, target string, files []walker.FileInfo,
) worker.Stats {
	cfg := r.opts.Config

	pathResolver := r.opts.Resolver
	if pathResolver == nil {
		pathResolver = resolver.New(resolver.Options{
			SourceRoot:    source,
			TargetRoot:    target,
			KeepStructure: cfg.KeepStructure,
			DateFolders:   cfg.DateFolders.Enabled,
			DateSource:    cfg.DateFolders.Source,
			DatePattern:   cfg.DateFolders.Pattern,
			UseMetadata:   cfg.DateFolders.UseMetadata && r.opts.Extractor != nil,
			Extractor:     r.opts.Extractor,
			Logger:        r.opts.Log,
		})
	}

	matcher := &planner.Matcher{
		Algorithm:    cfg.Algorithm,
		Registry:     reg,
		Resolver:     pathResolver,
		Destinations: planner.NewDestinationSet(),
		DryRun:       cfg.DryRun,
	}
	exec := executor.NewExecutor(executor.Options{
		DryRun:        cfg.DryRun,
		PreserveTimes: cfg.PreserveDates,
		Verify:        cfg.Verify,
		Algorithm:     cfg.Algorithm,
		Move:          cfg.Move,
		Logger:        r.opts.Log,
	})

	r.opts.Logger.PhaseStart(PhaseProcess, len(files))
	stats := pool.Execute(ctx, len(files), func(_ context.Context, idx int) {
		path := files[idx].Path

		m, err := matcher.Match(path)
		if err != nil {
			results.AddFailure(planner.Failure{Path: path, Phase: PhaseProcess, Err: err})
			r.opts.Logger.Error(PhaseProcess, path, err)
			return
		}

		if m.Decision != planner.DecisionCopy {
			m.Record(results)
			r.opts.Logger.ItemProcessed(PhaseProcess, path, string(m.Decision))
			return
		}

		res := exec.Copy(m.Plan())
		if res.Error != nil {
			results.AddFailure(planner.Failure{Path: path, Phase: PhaseCopy, Err: res.Error})
			r.opts.Logger.Error(PhaseCopy, path, fmt.Errorf("copy to %s: %w", m.Destination, res.Error))
			return
		}
		results.AddCopy(res.Plan)
		r.opts.Logger.ItemProcessed(PhaseProcess, path, string(planner.DecisionCopy))
	})
	r.opts.Logger.PhaseComplete(PhaseProcess, int(stats.Processed))
	return stats
}
