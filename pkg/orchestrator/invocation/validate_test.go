package invocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/agent-substrate/pkg/agent"
	"github.com/docker/agent-substrate/pkg/errkind"
)

func newRegistry(descs ...agent.Descriptor) *agent.Registry {
	m := make(map[string]agent.Descriptor, len(descs))
	for _, d := range descs {
		m[d.Name] = d
	}
	return agent.NewRegistry(m)
}

func TestValidateUnknownAgent(t *testing.T) {
	t.Parallel()

	plan, ok, err := Parse("@ghost")
	require.NoError(t, err)
	require.True(t, ok)

	err = Validate(plan, newRegistry())
	require.Error(t, err)
	assert.Equal(t, errkind.NotFound, errkind.Of(err))
}

// TestSequentialDuplicateIsCircularDependency is spec.md §8's
// "a Sequential plan with duplicate names fails validation 100% of the
// time" property.
func TestSequentialDuplicateIsCircularDependency(t *testing.T) {
	t.Parallel()

	plan, ok, err := Parse(`@test-writer → @test-writer`)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, PlanSequential, plan.Kind)

	reg := newRegistry(agent.Descriptor{Name: "test-writer", Parallelizable: true})
	err = Validate(plan, reg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircularDependency)
}

// TestParallelRequiresParallelizable is spec.md §8 scenario 4.
func TestParallelRequiresParallelizable(t *testing.T) {
	t.Parallel()

	plan, ok, err := Parse(`@test-writer type=unit + @code-reviewer type=full`)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, PlanParallel, plan.Kind)

	reg := newRegistry(
		agent.Descriptor{Name: "test-writer", Parallelizable: true},
		agent.Descriptor{Name: "code-reviewer", Parallelizable: false},
	)
	err = Validate(plan, reg)
	require.Error(t, err)
	assert.Equal(t, errkind.Input, errkind.Of(err))

	reg2 := newRegistry(
		agent.Descriptor{Name: "test-writer", Parallelizable: true},
		agent.Descriptor{Name: "code-reviewer", Parallelizable: true},
	)
	assert.NoError(t, Validate(plan, reg2))
}

func TestValidateEnumParameter(t *testing.T) {
	t.Parallel()

	plan, ok, err := Parse(`@test-writer type=integration`)
	require.NoError(t, err)
	require.True(t, ok)

	reg := newRegistry(agent.Descriptor{
		Name: "test-writer",
		Parameters: []agent.ParamSchema{
			{Name: "type", Enum: []string{"unit", "e2e"}},
		},
	})
	err = Validate(plan, reg)
	require.Error(t, err)
	assert.Equal(t, errkind.Input, errkind.Of(err))
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	reg := newRegistry(agent.Descriptor{
		Name: "test-writer",
		Parameters: []agent.ParamSchema{
			{Name: "type", Default: "unit"},
		},
	})

	inv := AgentInvocation{AgentName: "test-writer", Parameters: map[string]string{}}
	out := ApplyDefaults(inv, reg)
	assert.Equal(t, "unit", out.Parameters["type"])
	// original is untouched.
	assert.Empty(t, inv.Parameters["type"])
}
