package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"voxprep/internal/artifact"
	"voxprep/internal/config"
	"voxprep/internal/logging"
	"voxprep/internal/manifest"
	"voxprep/internal/resolve"
	"voxprep/internal/spec"
	"voxprep/internal/telemetry"
)

// Failure is one subject's terminal error, surfaced in the run summary.
type Failure struct {
	Subject string
	Err     error
}

// Summary aggregates per-subject outcomes. Per-subject failures do not
// make the run fail; only fatal (configuration or output-root) errors do.
type Summary struct {
	Succeeded int
	Skipped   int
	Failed    int
	Warnings  int
	Failures  []Failure
}

// Runner drives manifest rows through resolve → execute → persist.
type Runner struct {
	runID   string
	mode    config.Mode
	force   bool
	data    spec.Data
	workers int
	root    string

	exec   *Executor
	writer *artifact.Writer
	ledger *manifest.Ledger

	mu  sync.Mutex
	sum Summary
}

// RunID identifies this pipeline run in logs and artifact metadata.
func (r *Runner) RunID() string { return r.runID }

// Run processes every manifest row not already recorded in the ledger.
// Subjects are independent, so they are dispatched onto a bounded worker
// pool; ledger appends are serialized inside the ledger itself. Run
// returns an error only when the context is cancelled — per-subject
// failures land in the summary instead.
func (r *Runner) Run(ctx context.Context, rows []manifest.Row) (Summary, error) {
	log := logging.For("driver").With("run_id", r.runID)
	log.Info("pipeline starting", "subjects", len(rows), "workers", r.workers, "mode", string(r.mode))

	g := new(errgroup.Group)
	g.SetLimit(r.workers)
	for _, row := range rows {
		if !r.force && r.ledger.Has(row.SubjectID) {
			r.skip(row.SubjectID, log, "already in output manifest")
			continue
		}
		g.Go(func() error {
			// an unstarted subject is abandoned on cancellation; an
			// in-flight one runs to completion so its artifact and
			// ledger entry stay consistent
			if ctx.Err() != nil {
				return nil
			}
			r.processSubject(ctx, row, log)
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	sum := r.sum
	r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	log.Info("pipeline finished",
		"succeeded", sum.Succeeded, "skipped", sum.Skipped, "failed", sum.Failed)
	return sum, nil
}

func (r *Runner) processSubject(ctx context.Context, row manifest.Row, log *slog.Logger) {
	telemetry.InflightSubjects.Inc()
	defer telemetry.InflightSubjects.Dec()

	// a complete artifact without a ledger entry means a prior run died
	// between its atomic rename and the ledger flush; adopt it rather
	// than reprocess
	if !r.force && artifact.Exists(r.root, row.SubjectID) {
		if r.adopt(row, log) {
			return
		}
	}

	b, err := resolve.Resolve(ctx, row, r.data)
	if err != nil {
		r.fail(row.SubjectID, err, log)
		return
	}
	b, trace, err := r.exec.Run(ctx, b)
	if err != nil {
		r.fail(row.SubjectID, err, log)
		return
	}
	ref, err := r.writer.Write(b, trace.Stages)
	if err != nil {
		r.fail(row.SubjectID, err, log)
		return
	}
	if err := r.ledger.Record(spec.LedgerEntry{
		Subject:  row.SubjectID,
		Row:      row.Index,
		Channels: ref.Channels,
		Label:    ref.Label,
		Meta:     ref.Meta,
	}); err != nil {
		r.fail(row.SubjectID, err, log)
		return
	}

	r.mu.Lock()
	r.sum.Succeeded++
	r.sum.Warnings += len(trace.Warnings)
	r.mu.Unlock()
	telemetry.SubjectsTotal.WithLabelValues("succeeded").Inc()
	log.Info("subject done", "subject", row.SubjectID, "stages", trace.Stages)
}

// adopt records an orphaned but complete artifact, provided its metadata
// says it was produced under the current flags.
func (r *Runner) adopt(row manifest.Row, log *slog.Logger) bool {
	m, err := artifact.ReadMeta(r.root, row.SubjectID)
	if err != nil || !flagsEqual(m.Flags, r.ledger.Flags()) {
		return false
	}
	ref := artifact.RefFromMeta(row.SubjectID, m)
	if err := r.ledger.Record(spec.LedgerEntry{
		Subject:  row.SubjectID,
		Row:      row.Index,
		Channels: ref.Channels,
		Label:    ref.Label,
		Meta:     ref.Meta,
	}); err != nil {
		return false
	}
	r.skip(row.SubjectID, log, "complete artifact adopted from interrupted run")
	return true
}

func (r *Runner) skip(subject string, log *slog.Logger, reason string) {
	r.mu.Lock()
	r.sum.Skipped++
	r.mu.Unlock()
	telemetry.SubjectsTotal.WithLabelValues("skipped").Inc()
	log.Debug("subject skipped", "subject", subject, "reason", reason)
}

func (r *Runner) fail(subject string, err error, log *slog.Logger) {
	// a subject cut short by shutdown is not a failure; it is left out of
	// the ledger and picked up again on resume
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Debug("subject interrupted", "subject", subject)
		return
	}
	r.mu.Lock()
	r.sum.Failed++
	r.sum.Failures = append(r.sum.Failures, Failure{Subject: subject, Err: err})
	r.mu.Unlock()
	telemetry.SubjectsTotal.WithLabelValues("failed").Inc()
	log.Error("subject failed", "subject", subject, "error", err)
}
