package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/docker/agent-substrate/pkg/agent"
	"github.com/docker/agent-substrate/pkg/errkind"
	"github.com/docker/agent-substrate/pkg/orchestrator/invocation"
)

// ErrPermissionDenied marks an AgentRunner refusing a tool call outside
// the agent's declared ToolPermissions, per spec.md §4.5.
var ErrPermissionDenied = errors.New("tool call denied: outside agent's declared permissions")

// Orchestrator walks a validated invocation.ExecutionPlan, dispatching
// each AgentInvocation to an AgentRunner. Grounded in the teacher's
// pkg/runtime.LocalRuntime conversation loop, generalized from a single
// current agent to a plan over many.
type Orchestrator struct {
	registry       *agent.Registry
	runner         AgentRunner
	maxConcurrency int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxConcurrency overrides DefaultMaxConcurrency for Parallel steps.
func WithMaxConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxConcurrency = n
		}
	}
}

// New builds an Orchestrator over registry, dispatching work to runner.
func New(registry *agent.Registry, runner AgentRunner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:       registry,
		runner:         runner,
		maxConcurrency: DefaultMaxConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ExecuteOptions carries the session-level context an Orchestrator run
// needs beyond the plan itself.
type ExecuteOptions struct {
	SessionMode string
	WorkingDir  string
	// StopOnError overrides the Sequential/Mixed default of true.
	StopOnError *bool
	// Prior supplies the preceding line's results, consulted when
	// evaluating a Conditional plan's ExecutionCondition.
	Prior []StepResult
}

func (o ExecuteOptions) stopOnError() bool {
	if o.StopOnError == nil {
		return true
	}
	return *o.StopOnError
}

// Execute validates and runs plan, returning every step's outcome.
func (o *Orchestrator) Execute(ctx context.Context, plan invocation.ExecutionPlan, opts ExecuteOptions) (Result, error) {
	if err := invocation.Validate(plan, o.registry); err != nil {
		return Result{}, err
	}

	switch plan.Kind {
	case invocation.PlanSingle:
		return Result{Steps: []StepResult{o.runOne(ctx, plan.Single, opts, "")}}, nil

	case invocation.PlanSequential:
		return o.runChain(ctx, plan.Chain, opts, plan.PassOutput), nil

	case invocation.PlanParallel:
		return Result{Steps: o.runParallel(ctx, plan.Parallel, opts)}, nil

	case invocation.PlanConditional:
		return o.runConditional(ctx, plan.ConditionalAgents, plan.Condition, opts), nil

	case invocation.PlanMixed:
		return o.runMixed(ctx, plan.Mixed, opts), nil

	default:
		return Result{}, fmt.Errorf("exec: unknown plan kind %q", plan.Kind)
	}
}

func (o *Orchestrator) runChain(ctx context.Context, chain []invocation.AgentInvocation, opts ExecuteOptions, passOutput bool) Result {
	var result Result
	priorOutput := ""

	for i, inv := range chain {
		if ctx.Err() != nil {
			result.Steps = append(result.Steps, skippedStep(inv.AgentName))
			continue
		}

		step := o.runOne(ctx, inv, opts, priorOutput)
		result.Steps = append(result.Steps, step)

		if passOutput && step.Succeeded() {
			priorOutput = step.Output
		}

		if !step.Succeeded() && opts.stopOnError() {
			for _, remaining := range chain[i+1:] {
				result.Steps = append(result.Steps, skippedStep(remaining.AgentName))
			}
			break
		}
	}

	return result
}

func (o *Orchestrator) runParallel(ctx context.Context, group []invocation.AgentInvocation, opts ExecuteOptions) []StepResult {
	results := make([]StepResult, len(group))
	sem := make(chan struct{}, o.maxConcurrency)
	var wg sync.WaitGroup

	for i, inv := range group {
		i, inv := i, inv
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = o.runOne(ctx, inv, opts, "")
		}()
	}

	// Wait for every spawned goroutine to actually finish writing its
	// result, not just for the semaphore to have enough free slots
	// (Parallel never aborts siblings on a single failure, per spec.md §5).
	wg.Wait()

	return results
}

func (o *Orchestrator) runConditional(ctx context.Context, agents []invocation.AgentInvocation, cond invocation.ExecutionCondition, opts ExecuteOptions) Result {
	if !conditionFires(cond, opts.Prior) {
		steps := make([]StepResult, len(agents))
		for i, inv := range agents {
			steps[i] = skippedStep(inv.AgentName)
		}
		return Result{Steps: steps}
	}
	return o.runChain(ctx, agents, opts, false)
}

func (o *Orchestrator) runMixed(ctx context.Context, steps []invocation.Step, opts ExecuteOptions) Result {
	var result Result
	aborted := false

	for _, step := range steps {
		if aborted {
			result.Steps = append(result.Steps, stepToSkipped(step)...)
			continue
		}

		switch step.Kind {
		case invocation.StepBarrier:
			continue
		case invocation.StepSingle:
			r := o.runOne(ctx, step.Single, opts, "")
			result.Steps = append(result.Steps, r)
			if !r.Succeeded() && opts.stopOnError() {
				aborted = true
			}
		case invocation.StepParallel:
			rs := o.runParallel(ctx, step.Parallel, opts)
			result.Steps = append(result.Steps, rs...)
			if opts.stopOnError() {
				for _, r := range rs {
					if !r.Succeeded() {
						aborted = true
						break
					}
				}
			}
		case invocation.StepConditional:
			sub := o.runConditional(ctx, step.Conditional, step.Condition, opts)
			result.Steps = append(result.Steps, sub.Steps...)
		}
	}

	return result
}

func stepToSkipped(step invocation.Step) []StepResult {
	switch step.Kind {
	case invocation.StepSingle:
		return []StepResult{skippedStep(step.Single.AgentName)}
	case invocation.StepParallel:
		out := make([]StepResult, len(step.Parallel))
		for i, inv := range step.Parallel {
			out[i] = skippedStep(inv.AgentName)
		}
		return out
	case invocation.StepConditional:
		out := make([]StepResult, len(step.Conditional))
		for i, inv := range step.Conditional {
			out[i] = skippedStep(inv.AgentName)
		}
		return out
	default:
		return nil
	}
}

func skippedStep(agentName string) StepResult {
	return StepResult{AgentName: agentName, Status: StatusSkipped}
}

// conditionFires evaluates cond against the most recent entry in prior,
// per spec.md §4.5. A Custom condition has no built-in evaluator and
// always fires, leaving the decision to the agent it invokes. OnFileError
// and OnFilePattern test cond.Pattern as a literal substring of that
// entry's Output; glob metacharacters in it are not interpreted.
func conditionFires(cond invocation.ExecutionCondition, prior []StepResult) bool {
	if len(prior) == 0 {
		return cond.Kind == invocation.CondCustom
	}
	last := prior[len(prior)-1]

	switch cond.Kind {
	case invocation.CondOnError:
		return !last.Succeeded() && last.Status != StatusSkipped
	case invocation.CondOnSuccess:
		return last.Succeeded()
	case invocation.CondOnTestFailure:
		return !last.Succeeded() && strings.Contains(strings.ToLower(last.Output), "test")
	case invocation.CondOnFileError:
		return !last.Succeeded() && (cond.Pattern == "" || strings.Contains(last.Output, cond.Pattern))
	case invocation.CondOnFilePattern:
		return strings.Contains(last.Output, cond.Pattern)
	case invocation.CondCustom:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) runOne(ctx context.Context, inv invocation.AgentInvocation, opts ExecuteOptions, priorOutput string) StepResult {
	desc, ok := o.registry.Get(inv.AgentName)
	if !ok {
		return StepResult{AgentName: inv.AgentName, Status: StatusError, Err: fmt.Errorf("unknown agent %q", inv.AgentName)}
	}

	resolved := invocation.ApplyDefaults(inv, o.registry)

	ac := AgentContext{
		Descriptor:   desc,
		Invocation:   resolved,
		Mode:         effectiveMode(desc, resolved.ModeOverride, opts.SessionMode),
		Intelligence: effectiveIntelligence(desc, resolved.IntelligenceOverride),
		WorkingDir:   opts.WorkingDir,
		PriorOutput:  priorOutput,
		PriorResults: opts.Prior,
	}

	timeout := effectiveTimeout(desc)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	slog.Debug("running agent", "agent", desc.Name, "mode", ac.Mode, "timeout", timeout)
	output, err := o.runner.RunAgent(runCtx, ac)
	duration := time.Since(started)

	status := classify(runCtx, err)
	if status == StatusError {
		slog.Error("agent run failed", "agent", desc.Name, "error", err)
	}

	return StepResult{
		AgentName: desc.Name,
		Status:    status,
		Output:    output,
		Err:       err,
		Started:   started,
		Duration:  duration,
	}
}

func classify(ctx context.Context, err error) Status {
	if err == nil {
		return StatusSuccess
	}
	if errors.Is(err, ErrPermissionDenied) || errkind.Is(err, errkind.PermissionDenied) {
		return StatusPermissionDenied
	}
	if errors.Is(err, context.DeadlineExceeded) || (ctx.Err() == context.DeadlineExceeded) {
		return StatusTimeout
	}
	if errors.Is(err, context.Canceled) {
		return StatusCancelled
	}
	return StatusError
}
