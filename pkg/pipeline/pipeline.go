// Package pipeline runs stored functions one after another over a shared
// request context and response accumulator.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joeydtaylor/steeze-functions/pkg/function"
	"github.com/joeydtaylor/steeze-functions/pkg/middleware/metrics"
	"github.com/joeydtaylor/steeze-functions/pkg/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Runtime compiles and executes function code.
type Runtime interface {
	Compile(filename, code string) (function.Handle, error)
	Execute(ctx context.Context, h function.Handle, fc *function.Context, env map[string]string) (*function.Response, error)
}

// Resolver loads entries through the cache; registry.Coordinator satisfies it.
type Resolver interface {
	GetManyByCache(ctx context.Context, refs []function.Ref, pre registry.PreCache) ([]*function.Entry, error)
}

// State is where a run currently is.
type State int

const (
	Resolving State = iota
	Executing
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Resolving:
		return "resolving"
	case Executing:
		return "executing"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Run is the record of one pipeline execution.
type Run struct {
	ID    string
	Refs  []function.Ref
	State State
	// Step is the index being executed, or the one that failed.
	Step int
}

type Executor struct {
	resolver Resolver
	runtime  Runtime
	log      *zap.Logger
	tracer   trace.Tracer
}

func NewExecutor(resolver Resolver, runtime Runtime, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		resolver: resolver,
		runtime:  runtime,
		log:      log.Named("pipeline"),
		tracer:   otel.Tracer("github.com/joeydtaylor/steeze-functions/pkg/pipeline"),
	}
}

// compile is the PreCache the executor resolves with: it attaches the
// compiled script as the entry's handle.
func (e *Executor) compile(entry function.Entry) (function.Entry, error) {
	h, err := e.runtime.Compile(entry.Ref().Filename(), entry.Code)
	if err != nil {
		return function.Entry{}, &function.Error{Kind: function.ErrValidation, Ref: entry.Ref(), Err: err}
	}
	entry.Handle = h
	return entry, nil
}

// Run resolves every ref, then executes them in order. A missing ref fails
// the run before any step executes. A fault at step k stops the run; the
// returned *function.Error names the step and carries the partial response
// when the runtime produced one. On success the final accumulator is
// returned.
func (e *Executor) Run(ctx context.Context, refs []function.Ref, req function.Request) (*function.Response, error) {
	return e.start(ctx, refs, req, false)
}

// RunExposed runs a single function on behalf of an outside caller. The
// entry must be marked exposed; otherwise the run fails with ErrForbidden
// and nothing executes.
func (e *Executor) RunExposed(ctx context.Context, ref function.Ref, req function.Request) (*function.Response, error) {
	return e.start(ctx, []function.Ref{ref}, req, true)
}

func (e *Executor) start(ctx context.Context, refs []function.Ref, req function.Request, exposedOnly bool) (*function.Response, error) {
	run := &Run{ID: uuid.NewString(), Refs: refs, State: Resolving}

	ctx, span := e.tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("pipeline.run_id", run.ID),
		attribute.Int("pipeline.steps", len(refs)),
	))
	defer span.End()

	log := e.log.With(zap.String("runId", run.ID), zap.Int("steps", len(refs)))

	res, err := e.run(ctx, run, req, exposedOnly, log)
	span.SetAttributes(attribute.String("pipeline.state", run.State.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ObservePipelineRun(outcomeOf(err))
		log.Warn("pipeline failed", zap.Int("step", run.Step), zap.Error(err))
		return nil, err
	}
	metrics.ObservePipelineRun(metrics.RunSucceeded)
	log.Debug("pipeline succeeded", zap.Int("status", res.Status))
	return res, nil
}

func (e *Executor) run(ctx context.Context, run *Run, req function.Request, exposedOnly bool, log *zap.Logger) (*function.Response, error) {
	if len(run.Refs) == 0 {
		run.State = Failed
		return nil, &function.Error{Kind: function.ErrValidation, Msg: "at least one step is required"}
	}

	entries, err := e.resolver.GetManyByCache(ctx, run.Refs, e.compile)
	if err != nil {
		run.State = Failed
		return nil, err
	}
	for i, entry := range entries {
		if entry == nil {
			run.State, run.Step = Failed, i
			return nil, function.NotFound(run.Refs[i])
		}
		if exposedOnly && !entry.IsExposed() {
			run.State, run.Step = Failed, i
			return nil, &function.Error{Kind: function.ErrForbidden, Ref: run.Refs[i], Msg: "function is not exposed"}
		}
	}

	fc := function.NewContext(req)
	for i, entry := range entries {
		run.State, run.Step = Executing, i
		fc.Ref = entry.Ref()

		start := time.Now()
		res, err := e.runtime.Execute(ctx, entry.Handle, fc, entry.Env)
		metrics.ObservePipelineStep(time.Since(start))
		if err != nil {
			run.State = Failed
			return nil, stepError(entry.Ref(), i, err)
		}
		if res == nil {
			res = function.NewResponse()
		}
		fc.Response = res
		log.Debug("step done", zap.Int("step", i), zap.String("ref", fc.Ref.String()), zap.Int("status", res.Status))
	}

	run.State = Succeeded
	return fc.Response, nil
}

func stepError(ref function.Ref, step int, err error) error {
	fe := &function.Error{Kind: function.ErrRuntime, Ref: ref, Step: step, InPipeline: true, Err: err}
	var fault *function.Fault
	if errors.As(err, &fault) && fault.Response != nil {
		fe.Response = fault.Response.Clone()
	}
	return fe
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, function.ErrNotFound):
		return metrics.RunNotFound
	case errors.Is(err, function.ErrValidation), errors.Is(err, function.ErrForbidden):
		return metrics.RunInvalid
	default:
		return metrics.RunFailed
	}
}
