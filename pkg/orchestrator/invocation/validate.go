package invocation

import (
	"fmt"

	"github.com/docker/agent-substrate/pkg/agent"
	"github.com/docker/agent-substrate/pkg/errkind"
)

// AgentLookup resolves a registered agent's Descriptor by name.
type AgentLookup interface {
	Get(name string) (agent.Descriptor, bool)
}

// ErrCircularDependency marks a Sequential chain naming the same agent
// twice, spec.md §3's cycle rule.
var ErrCircularDependency = fmt.Errorf("circular dependency: agent appears twice in a sequential chain")

// Validate checks plan against registry per spec.md §3/§4.5: every
// named agent must exist; a Sequential chain may not repeat an agent;
// every Parallel/Mixed-Parallel participant must be parallelizable;
// every parameter with an enum schema must take one of its values.
func Validate(plan ExecutionPlan, registry AgentLookup) error {
	for _, inv := range plan.Agents() {
		if _, ok := registry.Get(inv.AgentName); !ok {
			return errkind.New(errkind.NotFound, fmt.Errorf("unknown agent %q", inv.AgentName))
		}
	}

	if err := validateParams(plan.Agents(), registry); err != nil {
		return err
	}

	switch plan.Kind {
	case PlanSequential:
		if err := validateNoDuplicates(plan.Chain); err != nil {
			return err
		}
	case PlanParallel:
		if err := validateParallelizable(plan.Parallel, registry); err != nil {
			return err
		}
	case PlanMixed:
		for _, step := range plan.Mixed {
			if step.Kind == StepParallel {
				if err := validateParallelizable(step.Parallel, registry); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func validateNoDuplicates(chain []AgentInvocation) error {
	seen := make(map[string]bool, len(chain))
	for _, inv := range chain {
		if seen[inv.AgentName] {
			return errkind.New(errkind.Input, fmt.Errorf("%w: %q", ErrCircularDependency, inv.AgentName))
		}
		seen[inv.AgentName] = true
	}
	return nil
}

func validateParallelizable(group []AgentInvocation, registry AgentLookup) error {
	for _, inv := range group {
		desc, ok := registry.Get(inv.AgentName)
		if !ok {
			return errkind.New(errkind.NotFound, fmt.Errorf("unknown agent %q", inv.AgentName))
		}
		if !desc.Parallelizable {
			return errkind.New(errkind.Input, fmt.Errorf("agent %q is not parallelizable", inv.AgentName))
		}
	}
	return nil
}

func validateParams(invocations []AgentInvocation, registry AgentLookup) error {
	for _, inv := range invocations {
		desc, ok := registry.Get(inv.AgentName)
		if !ok {
			continue
		}
		for _, schema := range desc.Parameters {
			value, present := inv.Parameters[schema.Name]
			if !present {
				continue
			}
			if !schema.Valid(value) {
				return errkind.New(errkind.Input, fmt.Errorf("agent %q: parameter %q value %q is not in its allowed enum", inv.AgentName, schema.Name, value))
			}
		}
	}
	return nil
}

// ApplyDefaults returns a copy of inv with parameters missing a schema
// default filled in from the registered Descriptor's ParamSchema.
func ApplyDefaults(inv AgentInvocation, registry AgentLookup) AgentInvocation {
	desc, ok := registry.Get(inv.AgentName)
	if !ok {
		return inv
	}

	params := make(map[string]string, len(inv.Parameters))
	for k, v := range inv.Parameters {
		params[k] = v
	}
	for _, schema := range desc.Parameters {
		if _, present := params[schema.Name]; !present && schema.Default != "" {
			params[schema.Name] = schema.Default
		}
	}

	out := inv
	out.Parameters = params
	return out
}
