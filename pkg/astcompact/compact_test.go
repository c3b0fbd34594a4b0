package astcompact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/agent-substrate/pkg/parser"
)

const goSample = `package sample

// Add returns the sum of a and b.
func Add(a, b int) int {
	return a + b
}

func unexportedHelper() {}

type Widget struct {
	Name string
}
`

func TestCompactExtractsExportedFunction(t *testing.T) {
	t.Parallel()

	svc := parser.New(parser.Options{})
	c := NewCompactor(svc)

	result, err := c.Compact(t.Context(), []byte(goSample), Options{Language: parser.LangGo, PreserveDocs: true})
	require.NoError(t, err)

	var names []string
	for _, e := range result.Elements {
		if e.Kind == KindFunction {
			names = append(names, e.Name)
		}
	}
	assert.Contains(t, names, "Add")
	assert.NotContains(t, names, "unexportedHelper", "private function excluded by default")
}

func TestCompactIncludePrivate(t *testing.T) {
	t.Parallel()

	svc := parser.New(parser.Options{})
	c := NewCompactor(svc)

	result, err := c.Compact(t.Context(), []byte(goSample), Options{Language: parser.LangGo, IncludePrivate: true})
	require.NoError(t, err)

	var names []string
	for _, e := range result.Elements {
		if e.Kind == KindFunction {
			names = append(names, e.Name)
		}
	}
	assert.Contains(t, names, "unexportedHelper")
}

func TestCompactEmptyInput(t *testing.T) {
	t.Parallel()

	svc := parser.New(parser.Options{})
	c := NewCompactor(svc)

	_, err := c.Compact(t.Context(), nil, Options{Language: parser.LangGo})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestCompactDetectsLanguageFromOptionsAbsent(t *testing.T) {
	t.Parallel()

	svc := parser.New(parser.Options{})
	c := NewCompactor(svc)

	_, err := c.Compact(t.Context(), []byte("some unlabeled text"), Options{})
	assert.ErrorIs(t, err, ErrLanguageDetectionFailed)
}

func TestCompactOrdersByImportanceThenLine(t *testing.T) {
	t.Parallel()

	svc := parser.New(parser.Options{})
	c := NewCompactor(svc)

	result, err := c.Compact(t.Context(), []byte(goSample), Options{Language: parser.LangGo, IncludePrivate: true})
	require.NoError(t, err)
	require.NotEmpty(t, result.Elements)

	for i := 1; i < len(result.Elements); i++ {
		prevImportance := importanceOf(result.Elements[i-1].Kind)
		currImportance := importanceOf(result.Elements[i].Kind)
		assert.GreaterOrEqual(t, prevImportance, currImportance)
		if prevImportance == currImportance {
			assert.LessOrEqual(t, result.Elements[i-1].StartLine, result.Elements[i].StartLine)
		}
	}
}

func TestCompactCustomFilterExcludesByName(t *testing.T) {
	t.Parallel()

	svc := parser.New(parser.Options{})
	c := NewCompactor(svc)

	result, err := c.Compact(t.Context(), []byte(goSample), Options{
		Language: parser.LangGo,
		ElementFilters: []ElementFilter{
			{Kind: KindFunction, NameSubstring: "Add", Include: false},
		},
	})
	require.NoError(t, err)

	for _, e := range result.Elements {
		assert.NotEqual(t, "Add", e.Name)
	}
}
