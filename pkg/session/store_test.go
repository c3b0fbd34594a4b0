package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/agent-substrate/pkg/chatmsg"
	"github.com/docker/agent-substrate/pkg/compress"
)

func sampleSession() *Session {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &Session{
		ID:          "sess-1",
		Title:       "sample",
		Model:       "m",
		Messages:    []chatmsg.Message{textMessage(chatmsg.RoleUser, "hi"), textMessage(chatmsg.RoleAssistant, "hello")},
		ModeHistory: []ModeEntry{{Mode: ModePlan, Timestamp: now}},
		Tags:        []string{"a", "b"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	for _, codec := range []*compress.Codec{nil, compress.New(compress.Fast), compress.New(compress.Balanced), compress.New(compress.Maximum)} {
		sess := sampleSession()
		data, err := Encode(sess, codec)
		require.NoError(t, err)

		got, err := Decode(data)
		require.NoError(t, err)

		assert.Equal(t, sess.ID, got.ID)
		assert.Equal(t, sess.Title, got.Title)
		assert.Equal(t, len(sess.Messages), len(got.Messages))
		for i := range sess.Messages {
			assert.Equal(t, sess.Messages[i].ContentText(), got.Messages[i].ContentText())
		}
	}
}

func TestDecodeMetadataDoesNotRequireFullConversation(t *testing.T) {
	t.Parallel()

	sess := sampleSession()
	data, err := Encode(sess, compress.New(compress.Balanced))
	require.NoError(t, err)

	meta, err := DecodeMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, meta.ID)
	assert.Equal(t, sess.Title, meta.Title)
}

func TestDecodeCorruptRecord(t *testing.T) {
	t.Parallel()

	sess := sampleSession()
	data, err := Encode(sess, compress.New(compress.Balanced))
	require.NoError(t, err)

	// flip a byte in the payload region to break the checksum.
	corrupt := append([]byte(nil), data...)
	corrupt[len(corrupt)-10] ^= 0xff

	_, err = Decode(corrupt)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptSession)
}

func TestDecodeBadMagic(t *testing.T) {
	t.Parallel()

	sess := sampleSession()
	data, err := Encode(sess, nil)
	require.NoError(t, err)

	corrupt := append([]byte(nil), data...)
	corrupt[0] = 'X'

	_, err = Decode(corrupt)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptSession)
}

func TestWriteFileReadFileRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sess := sampleSession()
	path := SessionPath(dir, sess.ID)

	require.NoError(t, WriteFile(path, sess, compress.New(compress.Balanced)))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	// spec.md §8 scenario 6: a leftover temp file from an interrupted
	// write must not appear as a readable session and must be safe to
	// remove on startup.
	tmpPath := path + ".tmp"
	require.NoError(t, os.WriteFile(tmpPath, []byte("partial"), 0o644))
	assert.True(t, IsTempFile(filepath.Base(tmpPath)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}
