package exec

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/agent-substrate/pkg/agent"
	"github.com/docker/agent-substrate/pkg/orchestrator/invocation"
)

// stubRunner records invocation order and optionally fails/delays named
// agents, a stand-in for spec.md §8 scenario 3's "stub runner".
type stubRunner struct {
	mu       sync.Mutex
	order    []string
	fail     map[string]error
	delay    map[string]time.Duration
	priorOut map[string]string
}

func newStubRunner() *stubRunner {
	return &stubRunner{fail: map[string]error{}, delay: map[string]time.Duration{}, priorOut: map[string]string{}}
}

func (s *stubRunner) RunAgent(ctx context.Context, ac AgentContext) (string, error) {
	s.mu.Lock()
	s.order = append(s.order, ac.Descriptor.Name)
	s.priorOut[ac.Descriptor.Name] = ac.PriorOutput
	s.mu.Unlock()

	if d, ok := s.delay[ac.Descriptor.Name]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err, ok := s.fail[ac.Descriptor.Name]; ok {
		return "", err
	}
	return "output-from-" + ac.Descriptor.Name, nil
}

func registryWith(descs ...agent.Descriptor) *agent.Registry {
	m := make(map[string]agent.Descriptor, len(descs))
	for _, d := range descs {
		m[d.Name] = d
	}
	return agent.NewRegistry(m)
}

// TestSequentialChainExecution is spec.md §8 scenario 3's execution half:
// two results, second invoked after the first completes, with output
// passed through.
func TestSequentialChainExecution(t *testing.T) {
	t.Parallel()

	reg := registryWith(
		agent.Descriptor{Name: "code-reviewer", Parallelizable: true, Chainable: true},
		agent.Descriptor{Name: "test-writer", Parallelizable: true},
	)
	runner := newStubRunner()
	orch := New(reg, runner)

	plan, ok, err := invocation.Parse(`@code-reviewer files=src/*.rs → @test-writer type=unit`)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := orch.Execute(context.Background(), plan, ExecuteOptions{})
	require.NoError(t, err)
	require.Len(t, result.Steps, 2)

	assert.Equal(t, "code-reviewer", result.Steps[0].AgentName)
	assert.True(t, result.Steps[0].Succeeded())
	assert.Equal(t, "test-writer", result.Steps[1].AgentName)
	assert.True(t, result.Steps[1].Succeeded())

	assert.Equal(t, []string{"code-reviewer", "test-writer"}, runner.order)
	assert.Equal(t, "output-from-code-reviewer", runner.priorOut["test-writer"])
}

func TestSequentialStopsOnErrorByDefault(t *testing.T) {
	t.Parallel()

	reg := registryWith(
		agent.Descriptor{Name: "a"},
		agent.Descriptor{Name: "b"},
		agent.Descriptor{Name: "c"},
	)
	runner := newStubRunner()
	runner.fail["a"] = fmt.Errorf("boom")
	orch := New(reg, runner)

	plan, ok, err := invocation.Parse(`@a → @b → @c`)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := orch.Execute(context.Background(), plan, ExecuteOptions{})
	require.NoError(t, err)
	require.Len(t, result.Steps, 3)

	assert.Equal(t, StatusError, result.Steps[0].Status)
	assert.Equal(t, StatusSkipped, result.Steps[1].Status)
	assert.Equal(t, StatusSkipped, result.Steps[2].Status)
	assert.Equal(t, []string{"a"}, runner.order)
}

func TestParallelNeverAbortsSiblings(t *testing.T) {
	t.Parallel()

	reg := registryWith(
		agent.Descriptor{Name: "a", Parallelizable: true},
		agent.Descriptor{Name: "b", Parallelizable: true},
	)
	runner := newStubRunner()
	runner.fail["a"] = fmt.Errorf("boom")
	orch := New(reg, runner)

	plan, ok, err := invocation.Parse(`@a + @b`)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := orch.Execute(context.Background(), plan, ExecuteOptions{})
	require.NoError(t, err)
	require.Len(t, result.Steps, 2)

	byName := map[string]StepResult{}
	for _, s := range result.Steps {
		byName[s.AgentName] = s
	}
	assert.Equal(t, StatusError, byName["a"].Status)
	assert.Equal(t, StatusSuccess, byName["b"].Status)
}

func TestParallelRespectsMaxConcurrency(t *testing.T) {
	t.Parallel()

	reg := registryWith(
		agent.Descriptor{Name: "a", Parallelizable: true},
		agent.Descriptor{Name: "b", Parallelizable: true},
		agent.Descriptor{Name: "c", Parallelizable: true},
	)
	runner := newStubRunner()
	for _, name := range []string{"a", "b", "c"} {
		runner.delay[name] = 30 * time.Millisecond
	}

	var concurrent, maxConcurrent int32
	wrapped := runnerFunc(func(ctx context.Context, ac AgentContext) (string, error) {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			cur := atomic.LoadInt32(&maxConcurrent)
			if n <= cur || atomic.CompareAndSwapInt32(&maxConcurrent, cur, n) {
				break
			}
		}
		out, err := runner.RunAgent(ctx, ac)
		atomic.AddInt32(&concurrent, -1)
		return out, err
	})

	orch := New(reg, wrapped, WithMaxConcurrency(2))
	plan, ok, err := invocation.Parse(`@a + @b + @c`)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = orch.Execute(context.Background(), plan, ExecuteOptions{})
	require.NoError(t, err)
	assert.LessOrEqual(t, int(maxConcurrent), 2)
}

type runnerFunc func(ctx context.Context, ac AgentContext) (string, error)

func (f runnerFunc) RunAgent(ctx context.Context, ac AgentContext) (string, error) {
	return f(ctx, ac)
}

func TestConditionalSkippedWhenConditionDoesNotFire(t *testing.T) {
	t.Parallel()

	reg := registryWith(agent.Descriptor{Name: "test-writer"})
	runner := newStubRunner()
	orch := New(reg, runner)

	plan, ok, err := invocation.Parse(`@test-writer if errors`)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := orch.Execute(context.Background(), plan, ExecuteOptions{
		Prior: []StepResult{{AgentName: "build", Status: StatusSuccess}},
	})
	require.NoError(t, err)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, StatusSkipped, result.Steps[0].Status)
	assert.Empty(t, runner.order)
}

func TestConditionalRunsWhenConditionFires(t *testing.T) {
	t.Parallel()

	reg := registryWith(agent.Descriptor{Name: "test-writer"})
	runner := newStubRunner()
	orch := New(reg, runner)

	plan, ok, err := invocation.Parse(`@test-writer if errors`)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := orch.Execute(context.Background(), plan, ExecuteOptions{
		Prior: []StepResult{{AgentName: "build", Status: StatusError}},
	})
	require.NoError(t, err)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, StatusSuccess, result.Steps[0].Status)
	assert.Equal(t, []string{"test-writer"}, runner.order)
}

func TestExecuteRejectsInvalidPlan(t *testing.T) {
	t.Parallel()

	reg := registryWith()
	runner := newStubRunner()
	orch := New(reg, runner)

	plan, ok, err := invocation.Parse(`@ghost`)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = orch.Execute(context.Background(), plan, ExecuteOptions{})
	require.Error(t, err)
	assert.Empty(t, runner.order)
}

func TestTimeoutClassifiedAsTimeout(t *testing.T) {
	t.Parallel()

	reg := registryWith(agent.Descriptor{Name: "slow", TimeoutSeconds: 1})
	runner := runnerFunc(func(ctx context.Context, ac AgentContext) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	orch := New(reg, runner)

	plan, ok, err := invocation.Parse(`@slow`)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := orch.Execute(context.Background(), plan, ExecuteOptions{})
	require.NoError(t, err)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, StatusTimeout, result.Steps[0].Status)
}

func TestCheckToolPermission(t *testing.T) {
	t.Parallel()

	desc := agent.Descriptor{
		Name:            "reader",
		ToolPermissions: map[string]agent.Permission{"fs.read": agent.PermissionRead},
	}

	assert.NoError(t, CheckToolPermission(desc, "fs.read", agent.PermissionRead))
	assert.NoError(t, CheckToolPermission(desc, "fs.read", agent.PermissionNone))
	assert.Error(t, CheckToolPermission(desc, "fs.read", agent.PermissionWrite))
	assert.Error(t, CheckToolPermission(desc, "fs.write", agent.PermissionRead))
}
