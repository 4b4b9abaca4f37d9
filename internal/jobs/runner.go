// Package jobs submits workflow documents to the generation engine and polls
// for the produced artifact.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"papercut/internal/domain"
	"papercut/internal/engine"
	"papercut/internal/infra"
	"papercut/internal/metrics"
	"papercut/internal/workflow"
)

// State is the lifecycle position of one generation job.
type State int

const (
	StateIdle State = iota
	StateSubmitted
	StatePolling
	StateCompleted
	StateTimedOut
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitted:
		return "submitted"
	case StatePolling:
		return "polling"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Engine is the subset of the engine client the runner depends on.
type Engine interface {
	SubmitPrompt(ctx context.Context, prompt json.Marshaler, clientID string) (*engine.Submission, error)
	History(ctx context.Context, promptID string) (engine.History, error)
}

// Options configures polling. Zero values take the defaults.
type Options struct {
	PollInterval time.Duration
	MaxWait      time.Duration
	OutputNode   string
	Bindings     workflow.Bindings
	Logger       *infra.Logger
	Metrics      metrics.Recorder
}

// Runner drives jobs from submission to a terminal state. It keeps no
// per-job state between calls; correlation is by the engine's job id.
type Runner struct {
	engine       Engine
	pollInterval time.Duration
	maxWait      time.Duration
	outputNode   string
	bindings     workflow.Bindings
	logger       *infra.Logger
	metrics      metrics.Recorder
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	newClientID  func() string
}

// NewRunner wires a runner to an engine.
func NewRunner(eng Engine, opts Options) *Runner {
	r := &Runner{
		engine:       eng,
		pollInterval: opts.PollInterval,
		maxWait:      opts.MaxWait,
		outputNode:   opts.OutputNode,
		bindings:     opts.Bindings,
		logger:       infra.OrNop(opts.Logger),
		metrics:      opts.Metrics,
		now:          time.Now,
		sleep:        sleepContext,
		newClientID:  uuid.NewString,
	}
	if r.pollInterval <= 0 {
		r.pollInterval = 3 * time.Second
	}
	if r.maxWait <= 0 {
		r.maxWait = 300 * time.Second
	}
	if r.outputNode == "" {
		r.outputNode = "60"
	}
	if r.bindings.InputNode == "" {
		r.bindings.InputNode = "78"
	}
	if r.bindings.SeedNode == "" {
		r.bindings.SeedNode = "115:3"
	}
	if r.metrics == nil {
		r.metrics = metrics.Noop{}
	}
	return r
}

// Request is one generation to run.
type Request struct {
	Document   *workflow.Document
	InputImage string
	// Seed is the caller's seed; nil or zero selects a random one.
	Seed *uint32
}

// Result describes where a job ended up. It is populated as far as the job
// progressed, also when Run returns an error.
type Result struct {
	Job      domain.GenerationJob
	State    State
	Artifact domain.OutputArtifactRef
	Report   workflow.MutationReport
	Attempts int
	Elapsed  time.Duration
}

// Run applies the overrides, submits the document and polls until the output
// node yields an image, the wait budget is spent, or ctx is cancelled.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	res := Result{State: StateIdle}
	if req.Document == nil {
		res.State = StateFailed
		return res, errors.New("jobs: document is required")
	}
	seed := ResolveSeed(req.Seed)
	report, err := req.Document.Apply(r.bindings, workflow.Overrides{InputImage: req.InputImage, Seed: seed})
	res.Report = report
	if err != nil {
		res.State = StateFailed
		return res, err
	}
	if report.InputImage != workflow.FieldSet {
		r.logger.Warn().Str("node", r.bindings.InputNode).Str("status", string(report.InputImage)).Msg("jobs: input image not applied")
	}
	if report.Seed != workflow.FieldSet {
		r.logger.Warn().Str("node", r.bindings.SeedNode).Str("status", string(report.Seed)).Msg("jobs: seed not applied")
	}

	clientID := r.newClientID()
	sub, err := r.engine.SubmitPrompt(ctx, req.Document, clientID)
	if err != nil {
		res.State = StateFailed
		r.metrics.ObserveJob(res.State.String(), 0)
		return res, err
	}
	res.State = StateSubmitted
	res.Job = domain.GenerationJob{ID: sub.PromptID, ClientID: clientID, Seed: seed, SubmittedAt: r.now()}
	r.logger.Info().
		Str("prompt_id", sub.PromptID).
		Str("client_id", clientID).
		Uint32("seed", seed).
		Str("input_image", req.InputImage).
		Msg("jobs: workflow submitted")

	err = r.poll(ctx, &res)
	res.Elapsed = r.now().Sub(res.Job.SubmittedAt)
	r.metrics.ObserveJob(res.State.String(), res.Elapsed)
	return res, err
}

func (r *Runner) poll(ctx context.Context, res *Result) error {
	res.State = StatePolling
	id := res.Job.ID
	start := res.Job.SubmittedAt
	for {
		elapsed := r.now().Sub(start)
		if elapsed >= r.maxWait {
			res.State = StateTimedOut
			r.logger.Warn().Str("prompt_id", id).Int("attempts", res.Attempts).Dur("elapsed", elapsed).Msg("jobs: wait budget exhausted")
			return fmt.Errorf("%w: prompt %s after %s", domain.ErrTimeout, id, r.maxWait)
		}

		res.Attempts++
		history, err := r.engine.History(ctx, id)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				res.State = StateFailed
				return fmt.Errorf("jobs: polling %s stopped: %w", id, ctxErr)
			}
			r.metrics.IncPollAttempt("error")
			r.logger.Warn().Err(err).Str("prompt_id", id).Int("attempt", res.Attempts).Dur("elapsed", elapsed).Msg("jobs: poll failed, continuing")
		default:
			entry, ok := history[id]
			if ok {
				if ref, found := entry.FirstImage(r.outputNode); found {
					r.metrics.IncPollAttempt("completed")
					res.State = StateCompleted
					res.Artifact = ref
					r.logger.Info().Str("prompt_id", id).Str("filename", ref.Filename).Int("attempts", res.Attempts).Msg("jobs: output ready")
					return nil
				}
				if entry.Status.Failed() {
					r.metrics.IncPollAttempt("failed")
					res.State = StateFailed
					return fmt.Errorf("%w: prompt %s reported status %q", domain.ErrExecution, id, entry.Status.StatusStr)
				}
			}
			r.metrics.IncPollAttempt("pending")
			r.logger.Debug().Str("prompt_id", id).Int("attempt", res.Attempts).Dur("elapsed", elapsed).Msg("jobs: output not ready")
		}

		if err := r.sleep(ctx, r.pollInterval); err != nil {
			res.State = StateFailed
			return fmt.Errorf("jobs: polling %s stopped: %w", id, err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
