// Package exec implements spec.md §4.5's Sub-Agent Orchestrator: it
// walks an invocation.ExecutionPlan, running each AgentInvocation
// against a pluggable AgentRunner, honoring Sequential/Parallel/
// Conditional/Mixed semantics, per-agent timeouts, and declared tool
// permissions. Grounded in the teacher's pkg/runtime event-loop and
// pkg/permissions.Checker (Allow/Deny pattern evaluation).
package exec

import (
	"context"
	"time"

	"github.com/docker/agent-substrate/pkg/agent"
	"github.com/docker/agent-substrate/pkg/orchestrator/invocation"
)

// Status discriminates how a single agent invocation finished.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusError            Status = "error"
	StatusTimeout          Status = "timeout"
	StatusCancelled        Status = "cancelled"
	StatusPermissionDenied Status = "permission_denied"
	StatusSkipped          Status = "skipped"
)

// StepResult is the outcome of running one AgentInvocation.
type StepResult struct {
	AgentName string
	Status    Status
	Output    string
	Err       error
	Started   time.Time
	Duration  time.Duration
}

// Succeeded reports whether the step completed normally.
func (r StepResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// Result is the outcome of running a whole ExecutionPlan.
type Result struct {
	Steps []StepResult
}

// Failed reports whether any step in the plan did not succeed, the
// StopOnError signal for a Sequential chain.
func (r Result) Failed() bool {
	for _, s := range r.Steps {
		if !s.Succeeded() && s.Status != StatusSkipped {
			return true
		}
	}
	return false
}

// AgentContext is the isolated execution context handed to an
// AgentRunner for a single invocation: its resolved descriptor,
// defaulted parameters, working directory, effective mode (override >
// agent default > session current) and intelligence tier (override >
// agent default), per spec.md §4.5.
type AgentContext struct {
	Descriptor      agent.Descriptor
	Invocation      invocation.AgentInvocation
	Mode            string
	Intelligence    string
	WorkingDir      string
	PriorOutput     string // set for Sequential when PassOutput is true
	PriorResults    []StepResult
}

// AgentRunner executes one agent invocation and returns its textual
// output. Implementations are responsible for enforcing ToolPermission
// checks against tools they invoke on the Descriptor's behalf; the
// orchestrator surfaces a returned ErrPermissionDenied as
// StatusPermissionDenied.
type AgentRunner interface {
	RunAgent(ctx context.Context, ac AgentContext) (string, error)
}

// DefaultMaxConcurrency bounds a Parallel step's simultaneous agents,
// per spec.md §5.
const DefaultMaxConcurrency = 4

// DefaultTimeout is the ceiling applied when an agent declares no
// timeout, or a longer one than spec.md §5 allows.
const DefaultTimeout = 10 * time.Minute

// effectiveTimeout returns min(agent.TimeoutSeconds, DefaultTimeout),
// falling back to DefaultTimeout when the agent declares none.
func effectiveTimeout(d agent.Descriptor) time.Duration {
	if d.TimeoutSeconds <= 0 {
		return DefaultTimeout
	}
	t := time.Duration(d.TimeoutSeconds) * time.Second
	if t > DefaultTimeout {
		return DefaultTimeout
	}
	return t
}

func effectiveMode(d agent.Descriptor, invocationOverride, sessionCurrent string) string {
	if invocationOverride != "" {
		return invocationOverride
	}
	if d.ModeOverride != "" {
		return d.ModeOverride
	}
	return sessionCurrent
}

func effectiveIntelligence(d agent.Descriptor, invocationOverride string) string {
	if invocationOverride != "" {
		return invocationOverride
	}
	return d.Intelligence
}
