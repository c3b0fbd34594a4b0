package errkind

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNilIsNil(t *testing.T) {
	t.Parallel()

	assert.NoError(t, New(Input, nil))
}

func TestOfRoundTrip(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("session not found")
	wrapped := New(NotFound, sentinel)

	assert.Equal(t, NotFound, Of(wrapped))
	assert.True(t, Is(wrapped, NotFound))
	assert.False(t, Is(wrapped, Internal))
}

func TestOfUnknownForPlainError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Unknown, Of(errors.New("plain")))
}

func TestOfSurvivesFmtWrap(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("disk full")
	wrapped := fmt.Errorf("flush checkpoint: %w", New(Resource, sentinel))

	assert.Equal(t, Resource, Of(wrapped))

	var target error
	require.ErrorAs(t, wrapped, &target)
}

func TestKindString(t *testing.T) {
	t.Parallel()

	cases := map[Kind]string{
		Input:            "input",
		NotFound:         "not_found",
		PermissionDenied: "permission_denied",
		Timeout:          "timeout",
		Cancelled:        "cancelled",
		Resource:         "resource",
		External:         "external",
		Corruption:       "corruption",
		Internal:         "internal",
		Unknown:          "unknown",
		Kind(999):        "unknown",
	}

	for kind, want := range cases {
		assert.Equal(t, want, kind.String())
	}
}
