// Package invocation implements spec.md §4.5's Invocation Parser: it
// turns a free-form line containing @agent tokens into an
// ExecutionPlan, a discriminated union over Single/Sequential/Parallel/
// Conditional/Mixed. Grounded in the teacher's pkg/agentfile loader
// style (declarative, name-keyed records) generalized to a small
// hand-rolled single-pass scanner, since no example repo in the
// pack ships a line-oriented DAG grammar of its own.
package invocation

// ConditionKind discriminates an ExecutionCondition's variant.
type ConditionKind string

const (
	CondOnError       ConditionKind = "on_error"
	CondOnSuccess     ConditionKind = "on_success"
	CondOnTestFailure ConditionKind = "on_test_failure"
	CondOnFileError   ConditionKind = "on_file_error"
	CondOnFilePattern ConditionKind = "on_file_pattern"
	CondCustom        ConditionKind = "custom"
)

// ExecutionCondition is spec.md §4.5's ExecutionCondition tagged union.
type ExecutionCondition struct {
	Kind ConditionKind
	// Pattern holds the pattern text for CondOnFileError/CondOnFilePattern;
	// exec tests it as a literal substring of the prior step's output,
	// not as a glob.
	Pattern string
	// Expr holds the raw text for CondCustom.
	Expr string
}

// AgentInvocation is spec.md §3's AgentInvocation record.
type AgentInvocation struct {
	AgentName            string
	Parameters           map[string]string
	RawParameters        string
	Position             int
	ModeOverride          string
	IntelligenceOverride  string
}

// PlanKind discriminates an ExecutionPlan's variant.
type PlanKind string

const (
	PlanSingle      PlanKind = "single"
	PlanSequential  PlanKind = "sequential"
	PlanParallel    PlanKind = "parallel"
	PlanConditional PlanKind = "conditional"
	PlanMixed       PlanKind = "mixed"
)

// StepKind discriminates a Mixed plan's Step variant.
type StepKind string

const (
	StepSingle      StepKind = "single"
	StepParallel    StepKind = "parallel"
	StepConditional StepKind = "conditional"
	StepBarrier     StepKind = "barrier"
)

// Step is one element of a Mixed ExecutionPlan.
type Step struct {
	Kind        StepKind
	Single      AgentInvocation
	Parallel    []AgentInvocation
	Conditional []AgentInvocation
	Condition   ExecutionCondition
}

// ExecutionPlan is spec.md §3's ExecutionPlan discriminated union.
type ExecutionPlan struct {
	Kind PlanKind

	// Single holds the invocation for PlanSingle.
	Single AgentInvocation

	// Chain and PassOutput hold PlanSequential's fields.
	Chain      []AgentInvocation
	PassOutput bool

	// Parallel holds PlanParallel's invocations.
	Parallel []AgentInvocation

	// ConditionalAgents and Condition hold PlanConditional's fields.
	ConditionalAgents []AgentInvocation
	Condition         ExecutionCondition

	// Mixed holds PlanMixed's steps.
	Mixed []Step
}

// Agents returns every AgentInvocation referenced anywhere in the plan,
// in parse order, used by validation and by the deterministic-parsing
// testable property (spec.md §8).
func (p ExecutionPlan) Agents() []AgentInvocation {
	switch p.Kind {
	case PlanSingle:
		return []AgentInvocation{p.Single}
	case PlanSequential:
		return p.Chain
	case PlanParallel:
		return p.Parallel
	case PlanConditional:
		return p.ConditionalAgents
	case PlanMixed:
		var out []AgentInvocation
		for _, step := range p.Mixed {
			switch step.Kind {
			case StepSingle:
				out = append(out, step.Single)
			case StepParallel:
				out = append(out, step.Parallel...)
			case StepConditional:
				out = append(out, step.Conditional...)
			}
		}
		return out
	default:
		return nil
	}
}
