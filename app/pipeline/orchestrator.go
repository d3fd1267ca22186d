package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/research-digest/app/content"
	"github.com/lysyi3m/research-digest/app/database"
	"github.com/lysyi3m/research-digest/app/papers"
	"github.com/lysyi3m/research-digest/app/synth"
)

type PaperSource interface {
	Fetch(ctx context.Context, maxResults int) ([]papers.Paper, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, req synth.Request) (synth.Result, error)
}

type Formatter interface {
	Format(result synth.Result) (content.Draft, error)
}

type PostStore interface {
	CreatePost(ctx context.Context, post database.NewPost) (int64, error)
}

type RunRecorder interface {
	SaveRun(ctx context.Context, run database.Run) error
}

var (
	_ PaperSource = (*papers.ArxivSource)(nil)
	_ Synthesizer = (*synth.Synthesizer)(nil)
	_ Formatter   = (*content.Formatter)(nil)
)

type State string

const (
	StateIdle      State = "Idle"
	StateRunning   State = "Running"
	StateSucceeded State = "Succeeded"
	StateFailed    State = "Failed"
)

type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

type Run struct {
	ID          string
	Trigger     Trigger
	State       State
	Reason      Reason
	Error       string
	PostID      int64
	PaperCount  int
	Model       string
	TotalTokens int
	Truncated   bool
	StartedAt   time.Time
	FinishedAt  time.Time

	// Draft is kept when the post could not be stored
	Draft *content.Draft
}

func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

type Orchestrator struct {
	source     PaperSource
	synth      Synthesizer
	formatter  Formatter
	posts      PostStore
	runs       RunRecorder
	params     synth.Params
	maxResults int
	state      *RunState
	metrics    *Metrics
	wg         sync.WaitGroup
	now        func() time.Time
}

// NewOrchestrator wires the pipeline steps. runs and metrics may be nil.
func NewOrchestrator(source PaperSource, synthesizer Synthesizer, formatter Formatter, posts PostStore,
	runs RunRecorder, params synth.Params, maxResults int, metrics *Metrics) *Orchestrator {
	return &Orchestrator{
		source:     source,
		synth:      synthesizer,
		formatter:  formatter,
		posts:      posts,
		runs:       runs,
		params:     params,
		maxResults: maxResults,
		state:      NewRunState(),
		metrics:    metrics,
		now:        time.Now,
	}
}

// Run executes the pipeline synchronously. It returns ErrBusy immediately,
// without doing any work, when another run holds the lock.
func (o *Orchestrator) Run(ctx context.Context, trigger Trigger) (Run, error) {
	run, ok := o.acquire(trigger)
	if !ok {
		return Run{Trigger: trigger, State: StateIdle, Reason: ReasonBusy}, ErrBusy
	}

	return o.execute(ctx, run)
}

// Start acquires the lock synchronously and runs the pipeline in the
// background. The returned Run carries the id to look up later.
func (o *Orchestrator) Start(trigger Trigger) (Run, error) {
	run, ok := o.acquire(trigger)
	if !ok {
		return Run{Trigger: trigger, State: StateIdle, Reason: ReasonBusy}, ErrBusy
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(context.Background(), run)
	}()

	return run, nil
}

// Wait blocks until background runs started with Start have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) Status() Status {
	return o.state.Snapshot()
}

func (o *Orchestrator) acquire(trigger Trigger) (Run, bool) {
	run := Run{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		State:     StateRunning,
		StartedAt: o.now(),
		Model:     o.params.Model,
	}

	if !o.state.TryAcquire(run) {
		slog.Info("Pipeline busy, run rejected", "trigger", trigger)
		if o.metrics != nil {
			o.metrics.busy(trigger)
		}
		return Run{}, false
	}

	if o.metrics != nil {
		o.metrics.started()
	}
	return run, true
}

func (o *Orchestrator) execute(ctx context.Context, run Run) (Run, error) {
	slog.Info("Pipeline run started", "run_id", run.ID, "trigger", run.Trigger)

	err := o.steps(ctx, &run)

	run.FinishedAt = o.now()
	if err != nil {
		run.State = StateFailed
		run.Reason = ReasonOf(err)
		run.Error = err.Error()
	} else {
		run.State = StateSucceeded
	}

	o.record(run)
	o.state.Release(run)
	if o.metrics != nil {
		o.metrics.finished(run)
	}

	if err != nil {
		slog.Error("Pipeline run failed",
			"run_id", run.ID,
			"trigger", run.Trigger,
			"reason", run.Reason,
			"duration", run.Duration().String(),
			"error", err)
	} else {
		slog.Info("Pipeline run succeeded",
			"run_id", run.ID,
			"trigger", run.Trigger,
			"post_id", run.PostID,
			"papers", run.PaperCount,
			"duration", run.Duration().String())
	}

	return run, err
}

// steps runs fetch, synthesize, format and store strictly in order. There is
// no retry across steps.
func (o *Orchestrator) steps(ctx context.Context, run *Run) error {
	candidates, err := o.source.Fetch(ctx, o.maxResults)
	if err != nil {
		return err
	}
	run.PaperCount = len(candidates)
	if len(candidates) == 0 {
		return ErrNoRelevantPapers
	}
	slog.Debug("Papers fetched", "run_id", run.ID, "count", len(candidates))

	result, err := o.synth.Synthesize(ctx, synth.Request{
		Papers: candidates,
		Params: o.params,
		Date:   run.StartedAt,
	})
	run.TotalTokens = result.Usage.TotalTokens
	if result.Model != "" {
		run.Model = result.Model
	}
	if err != nil {
		return err
	}
	run.Truncated = result.Truncated

	draft, err := o.formatter.Format(result)
	if err != nil {
		return err
	}
	slog.Debug("Content formatted", "run_id", run.ID, "title", draft.Title, "chars", len(draft.Body))

	paperIDs := make([]string, 0, len(candidates))
	for _, paper := range candidates {
		paperIDs = append(paperIDs, paper.ID)
	}

	id, err := o.posts.CreatePost(ctx, database.NewPost{
		Title:    draft.Title,
		Subtitle: draft.Subtitle,
		Body:     draft.Body,
		Excerpt:  draft.Excerpt,
		Source:   database.SourceGenerated,
		Model:    run.Model,
		PaperIDs: paperIDs,
	})
	if err != nil {
		run.Draft = &draft
		slog.Error("Formatted post could not be stored",
			"run_id", run.ID,
			"title", draft.Title,
			"chars", len(draft.Body))
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	run.PostID = id
	return nil
}

func (o *Orchestrator) record(run Run) {
	if o.runs == nil {
		return
	}

	record := database.Run{
		ID:          run.ID,
		Trigger:     string(run.Trigger),
		State:       string(run.State),
		Reason:      string(run.Reason),
		Error:       run.Error,
		PaperCount:  run.PaperCount,
		Model:       run.Model,
		TotalTokens: run.TotalTokens,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
	}
	if run.PostID != 0 {
		id := run.PostID
		record.PostID = &id
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := o.runs.SaveRun(ctx, record); err != nil {
		slog.Warn("Failed to record run", "run_id", run.ID, "error", err)
	}
}

// IsBusy reports whether err is the single-flight rejection.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}
