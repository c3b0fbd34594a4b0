package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/agent-substrate/pkg/chatmsg"
)

func textMessage(role chatmsg.Role, text string) chatmsg.Message {
	return chatmsg.Message{Role: role, Content: []chatmsg.Part{chatmsg.Text(text)}}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(t.TempDir())
	require.NoError(t, m.LoadIndex())
	return m
}

// TestCreateSessionSnapshotsEnv is spec.md §3's Context.Env: a new
// session starts with a snapshot of the configured environment keys.
func TestCreateSessionSnapshotsEnv(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")
	t.Setenv("HOME", "")

	m := NewManager(t.TempDir(), WithEnvKeys([]string{"PATH", "HOME"}))
	require.NoError(t, m.LoadIndex())

	sess, err := m.CreateSession("title", "model", ModeBuild)
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin", sess.Ctx.Env["PATH"])
	_, hasHome := sess.Ctx.Env["HOME"]
	assert.False(t, hasHome, "unset variables should be omitted, not stored empty")
}

// TestCreateSessionRespectsEnvProvider confirms CreateSession resolves
// its snapshot through the injected env.Provider rather than os.Getenv
// directly.
func TestCreateSessionRespectsEnvProvider(t *testing.T) {
	m := NewManager(t.TempDir(), WithEnvKeys([]string{"STUB"}), WithEnvProvider(stubEnvProvider{"STUB": "value"}))
	require.NoError(t, m.LoadIndex())

	sess, err := m.CreateSession("title", "model", ModeBuild)
	require.NoError(t, err)
	assert.Equal(t, "value", sess.Ctx.Env["STUB"])
}

type stubEnvProvider map[string]string

func (p stubEnvProvider) GetEnv(_ context.Context, name string) (string, error) {
	return p[name], nil
}

// TestCheckpointRoundTrip is spec.md §8 scenario 1.
func TestCheckpointRoundTrip(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	sess, err := m.CreateSession("S1", "m", ModeBuild)
	require.NoError(t, err)

	for _, text := range []string{"a", "b", "c", "d", "e", "f"} {
		role := chatmsg.RoleUser
		if text == "b" || text == "d" || text == "f" {
			role = chatmsg.RoleAssistant
		}
		require.NoError(t, m.AddMessage(sess.ID, textMessage(role, text)))
	}

	cpID, err := m.CreateCheckpoint(sess.ID, "cp1", "")
	require.NoError(t, err)

	require.NoError(t, m.AddMessage(sess.ID, textMessage(chatmsg.RoleUser, "g")))
	require.NoError(t, m.AddMessage(sess.ID, textMessage(chatmsg.RoleAssistant, "h")))

	require.NoError(t, m.RestoreCheckpoint(sess.ID, cpID))

	got, err := m.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.MessageCount())
	assert.Equal(t, "f", got.Messages[len(got.Messages)-1].ContentText())

	undoDepth, redoDepth, err := m.UndoRedoDepth(sess.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, undoDepth, 1)
	assert.Equal(t, 0, redoDepth)
}

// TestBranching is spec.md §8 scenario 2.
func TestBranching(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	sess, err := m.CreateSession("root", "m", ModePlan)
	require.NoError(t, err)
	require.NoError(t, m.AddMessage(sess.ID, textMessage(chatmsg.RoleUser, "hi")))
	require.NoError(t, m.AddMessage(sess.ID, textMessage(chatmsg.RoleAssistant, "hello")))

	rootCountBefore := len(m.ListSessions())

	newItems := []chatmsg.Message{
		textMessage(chatmsg.RoleUser, "alt-1"),
		textMessage(chatmsg.RoleAssistant, "alt-2"),
	}
	branch, err := m.CreateBranch(sess.ID, "alt", "", newItems, nil)
	require.NoError(t, err)
	assert.Equal(t, "alt", branch.Name)

	branches, err := m.GetBranches(sess.ID)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, "alt", branches[0].Name)

	// list_sessions grows by the branch session itself, but the root
	// session count (sessions with no BranchParentSessionID) is unaffected.
	all := m.ListSessions()
	rootCountAfter := 0
	for _, meta := range all {
		s, err := m.GetSession(meta.ID)
		require.NoError(t, err)
		if s.BranchParentSessionID == "" {
			rootCountAfter++
		}
	}
	assert.Equal(t, rootCountBefore, rootCountAfter)

	branchSess, err := m.GetSession(branch.Session.ID)
	require.NoError(t, err)
	assert.Len(t, branchSess.Messages, 2)
	assert.Equal(t, "alt-1", branchSess.Messages[0].ContentText())
}

func TestSwitchModeDoesNotClearRedo(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	sess, err := m.CreateSession("s", "m", ModePlan)
	require.NoError(t, err)

	require.NoError(t, m.AddMessage(sess.ID, textMessage(chatmsg.RoleUser, "a")))
	require.NoError(t, m.Undo(sess.ID))

	_, redoDepth, err := m.UndoRedoDepth(sess.ID)
	require.NoError(t, err)
	require.Equal(t, 1, redoDepth)

	require.NoError(t, m.SwitchMode(sess.ID, ModeBuild))

	_, redoDepth, err = m.UndoRedoDepth(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, redoDepth, "switch_mode must not clear redo")
}

func TestAddMessageClearsRedo(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	sess, err := m.CreateSession("s", "m", ModePlan)
	require.NoError(t, err)

	require.NoError(t, m.AddMessage(sess.ID, textMessage(chatmsg.RoleUser, "a")))
	require.NoError(t, m.Undo(sess.ID))

	require.NoError(t, m.AddMessage(sess.ID, textMessage(chatmsg.RoleUser, "b")))

	_, redoDepth, err := m.UndoRedoDepth(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, redoDepth)
}

func TestDeleteSessionIdempotent(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	sess, err := m.CreateSession("s", "m", ModePlan)
	require.NoError(t, err)

	require.NoError(t, m.DeleteSession(sess.ID))
	require.NoError(t, m.DeleteSession(sess.ID))
	require.NoError(t, m.DeleteSession("nonexistent-id"))
}

func TestSearchSessions(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	sess, err := m.CreateSession("Refactor auth module", "m", ModePlan)
	require.NoError(t, err)
	require.NoError(t, m.AddMessage(sess.ID, textMessage(chatmsg.RoleUser, "please help with login bugs")))

	other, err := m.CreateSession("Unrelated", "m", ModePlan)
	require.NoError(t, err)
	require.NoError(t, m.AddMessage(other.ID, textMessage(chatmsg.RoleUser, "something else entirely")))

	matches, err := m.SearchSessions("auth")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, sess.ID, matches[0].ID)

	matches, err = m.SearchSessions("login")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, sess.ID, matches[0].ID)
}

func TestLoadIndexRebuildsFromDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m1 := NewManager(dir)
	require.NoError(t, m1.LoadIndex())
	sess, err := m1.CreateSession("persisted", "m", ModePlan)
	require.NoError(t, err)

	m2 := NewManager(dir)
	require.NoError(t, m2.LoadIndex())

	list := m2.ListSessions()
	require.Len(t, list, 1)
	assert.Equal(t, sess.ID, list[0].ID)
	assert.Equal(t, "persisted", list[0].Title)
}
