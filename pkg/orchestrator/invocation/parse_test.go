package invocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNoInvocations(t *testing.T) {
	t.Parallel()

	plan, ok, err := Parse("just plain text, nothing to see here")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, ExecutionPlan{}, plan)
}

func TestParseSingle(t *testing.T) {
	t.Parallel()

	plan, ok, err := Parse("@code-reviewer files=src/*.rs")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, PlanSingle, plan.Kind)
	assert.Equal(t, "code-reviewer", plan.Single.AgentName)
	assert.Equal(t, "src/*.rs", plan.Single.Parameters["files"])
}

// TestSequentialAgentChain is spec.md §8 scenario 3.
func TestSequentialAgentChain(t *testing.T) {
	t.Parallel()

	plan, ok, err := Parse(`@code-reviewer files=src/*.rs → @test-writer type=unit`)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, PlanSequential, plan.Kind)
	require.True(t, plan.PassOutput)
	require.Len(t, plan.Chain, 2)

	assert.Equal(t, "code-reviewer", plan.Chain[0].AgentName)
	assert.Equal(t, map[string]string{"files": "src/*.rs"}, plan.Chain[0].Parameters)

	assert.Equal(t, "test-writer", plan.Chain[1].AgentName)
	assert.Equal(t, map[string]string{"type": "unit"}, plan.Chain[1].Parameters)
}

func TestParseParallel(t *testing.T) {
	t.Parallel()

	plan, ok, err := Parse("@test-writer + @test-writer")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, PlanParallel, plan.Kind)
	require.Len(t, plan.Parallel, 2)
	assert.Equal(t, "test-writer", plan.Parallel[0].AgentName)
	assert.Equal(t, "test-writer", plan.Parallel[1].AgentName)
}

func TestParseMixed(t *testing.T) {
	t.Parallel()

	plan, ok, err := Parse("@a + @b → @c")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, PlanMixed, plan.Kind)
	require.Len(t, plan.Mixed, 3)

	assert.Equal(t, StepParallel, plan.Mixed[0].Kind)
	require.Len(t, plan.Mixed[0].Parallel, 2)
	assert.Equal(t, "a", plan.Mixed[0].Parallel[0].AgentName)
	assert.Equal(t, "b", plan.Mixed[0].Parallel[1].AgentName)

	assert.Equal(t, StepBarrier, plan.Mixed[1].Kind)

	assert.Equal(t, StepSingle, plan.Mixed[2].Kind)
	assert.Equal(t, "c", plan.Mixed[2].Single.AgentName)
}

func TestParseConditional(t *testing.T) {
	t.Parallel()

	plan, ok, err := Parse(`@test-writer if errors`)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, PlanConditional, plan.Kind)
	assert.Equal(t, CondOnError, plan.Condition.Kind)
	require.Len(t, plan.ConditionalAgents, 1)
	assert.Equal(t, "test-writer", plan.ConditionalAgents[0].AgentName)
}

func TestParseConditionAliases(t *testing.T) {
	t.Parallel()

	for _, alias := range []string{"errors", "error", "failed", "ERRORS"} {
		plan, ok, err := Parse("@a if " + alias)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, CondOnError, plan.Condition.Kind, "alias %q", alias)
	}
}

func TestParseConditionFilePattern(t *testing.T) {
	t.Parallel()

	plan, ok, err := Parse(`@a if *.go`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, CondOnFilePattern, plan.Condition.Kind)
	assert.Equal(t, "*.go", plan.Condition.Pattern)
}

func TestParseConditionCustomFallback(t *testing.T) {
	t.Parallel()

	plan, ok, err := Parse(`@a if something weird happened`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, CondCustom, plan.Condition.Kind)
	assert.Equal(t, "something weird happened", plan.Condition.Expr)
}

func TestParseQuotedParamsIgnoreOperators(t *testing.T) {
	t.Parallel()

	plan, ok, err := Parse(`@a note="a + b → c"`)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, PlanSingle, plan.Kind)
	assert.Equal(t, "a + b → c", plan.Single.Parameters["note"])
}

func TestParseIsDeterministicAndExtractsAgentSet(t *testing.T) {
	t.Parallel()

	line := `@reviewer files=src → @writer "not @fake" + @linter`
	plan1, ok1, err1 := Parse(line)
	plan2, ok2, err2 := Parse(line)
	require.NoError(t, err1)
	require.NoError(t, err2)
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, plan1, plan2)

	names := map[string]bool{}
	for _, inv := range plan1.Agents() {
		names[inv.AgentName] = true
	}
	assert.Equal(t, map[string]bool{"reviewer": true, "writer": true, "linter": true}, names)
}

// TestParseEmbeddedMention covers an @name token preceded by free-form
// prose instead of starting its segment.
func TestParseEmbeddedMention(t *testing.T) {
	t.Parallel()

	plan, ok, err := Parse("Please review this with @code-reviewer")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, PlanSingle, plan.Kind)
	assert.Equal(t, "code-reviewer", plan.Single.AgentName)
}

// TestParseMultipleMentionsDefaultToParallel covers two @name tokens
// with no operator between them, which defaults to a Parallel plan
// over both agents rather than merging the second mention into the
// first invocation's params.
func TestParseMultipleMentionsDefaultToParallel(t *testing.T) {
	t.Parallel()

	plan, ok, err := Parse("@foo @bar")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, PlanParallel, plan.Kind)
	require.Len(t, plan.Parallel, 2)
	assert.Equal(t, "foo", plan.Parallel[0].AgentName)
	assert.Equal(t, "bar", plan.Parallel[1].AgentName)
}

func TestParsePositionalParams(t *testing.T) {
	t.Parallel()

	plan, ok, err := Parse(`@a pos1 pos2 key=val`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pos1", plan.Single.Parameters["arg0"])
	assert.Equal(t, "pos2", plan.Single.Parameters["arg1"])
	assert.Equal(t, "val", plan.Single.Parameters["key"])
}
