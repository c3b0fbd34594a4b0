package session

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/docker/agent-substrate/pkg/chatmsg"
	"github.com/docker/agent-substrate/pkg/compress"
	"github.com/docker/agent-substrate/pkg/errkind"
)

const (
	magic         = "AGCS"
	formatVersion = uint16(1)

	flagCompressed = uint16(1 << 0)

	headerSize = 4 + 2 + 2 + 8 + 8 // magic + version + flags + uncompressed_size + payload_len
	footerSize = 4                 // crc32c checksum
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// ErrCorruptSession marks a record whose magic, version, or checksum
// doesn't match, per spec.md §4.4/§6/§7.
var ErrCorruptSession = fmt.Errorf("corrupt session record")

// record is the JSON shape stored inside an .agcs payload: spec.md
// §4.4's "{metadata, conversation, state}". Conversation and state are
// kept as separate top-level fields (rather than nested inside
// Session) so DecodeMetadata can parse just the metadata field without
// unmarshaling the full conversation.
type record struct {
	Metadata     Metadata        `json:"metadata"`
	Conversation json.RawMessage `json:"conversation"`
	State        json.RawMessage `json:"state"`
}

type conversationState struct {
	ModeHistory           []ModeEntry `json:"mode_history"`
	Ctx                   Context     `json:"context"`
	Tags                  []string    `json:"tags,omitempty"`
	Starred               bool        `json:"starred,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
	BranchParentSessionID string      `json:"branch_parent_session_id,omitempty"`
	BranchParentPosition  *int        `json:"branch_parent_position,omitempty"`
}

// Encode serializes sess into the .agcs binary record, compressing the
// payload with codec, or storing it uncompressed when codec is nil.
func Encode(sess *Session, codec *compress.Codec) ([]byte, error) {
	conversation, err := json.Marshal(sess.Messages)
	if err != nil {
		return nil, fmt.Errorf("encode session: marshal conversation: %w", err)
	}
	state, err := json.Marshal(conversationState{
		ModeHistory:           sess.ModeHistory,
		Ctx:                   sess.Ctx,
		Tags:                  sess.Tags,
		Starred:               sess.Starred,
		Metadata:              sess.Metadata,
		BranchParentSessionID: sess.BranchParentSessionID,
		BranchParentPosition:  sess.BranchParentPosition,
	})
	if err != nil {
		return nil, fmt.Errorf("encode session: marshal state: %w", err)
	}

	rec := record{Metadata: metadataOf(sess), Conversation: conversation, State: state}
	uncompressed, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode session: marshal record: %w", err)
	}

	payload := uncompressed
	flags := uint16(0)
	if codec != nil {
		compressed, err := codec.Compress(uncompressed)
		if err != nil {
			return nil, fmt.Errorf("encode session: compress: %w", err)
		}
		payload = compressed
		flags |= flagCompressed
	}

	checksum := crc32.Checksum(payload, crc32cTable)

	buf := make([]byte, 0, headerSize+len(payload)+footerSize)
	buf = append(buf, magic...)
	buf = binary.BigEndian.AppendUint16(buf, formatVersion)
	buf = binary.BigEndian.AppendUint16(buf, flags)
	buf = binary.BigEndian.AppendUint64(buf, uint64(len(uncompressed)))
	buf = binary.BigEndian.AppendUint64(buf, uint64(len(payload)))
	buf = append(buf, payload...)
	buf = binary.BigEndian.AppendUint32(buf, checksum)

	return buf, nil
}

// Decode parses an .agcs record back into a Session, rejecting a
// magic/version/checksum mismatch as ErrCorruptSession (errkind.Corruption).
func Decode(data []byte) (*Session, error) {
	payload, _, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, errkind.New(errkind.Corruption, fmt.Errorf("%w: decode record: %v", ErrCorruptSession, err))
	}

	var messages []chatmsg.Message
	if err := json.Unmarshal(rec.Conversation, &messages); err != nil {
		return nil, errkind.New(errkind.Corruption, fmt.Errorf("%w: decode conversation: %v", ErrCorruptSession, err))
	}
	var state conversationState
	if err := json.Unmarshal(rec.State, &state); err != nil {
		return nil, errkind.New(errkind.Corruption, fmt.Errorf("%w: decode state: %v", ErrCorruptSession, err))
	}

	sess := &Session{
		ID:                    rec.Metadata.ID,
		Title:                 rec.Metadata.Title,
		Model:                 rec.Metadata.Model,
		Messages:              messages,
		ModeHistory:           state.ModeHistory,
		Ctx:                   state.Ctx,
		Tags:                  state.Tags,
		Starred:               state.Starred,
		Metadata:              state.Metadata,
		BranchParentSessionID: state.BranchParentSessionID,
		BranchParentPosition:  state.BranchParentPosition,
		CreatedAt:             rec.Metadata.CreatedAt,
		UpdatedAt:             rec.Metadata.UpdatedAt,
	}
	return sess, nil
}

// DecodeMetadata parses only the .agcs record's metadata field,
// skipping conversation/state, for spec.md §4.4's startup index rebuild
// ("scanning and decoding headers only").
func DecodeMetadata(data []byte) (Metadata, error) {
	payload, _, err := decodeEnvelope(data)
	if err != nil {
		return Metadata{}, err
	}

	var rec struct {
		Metadata Metadata `json:"metadata"`
	}
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Metadata{}, errkind.New(errkind.Corruption, fmt.Errorf("%w: decode metadata: %v", ErrCorruptSession, err))
	}
	return rec.Metadata, nil
}

func decodeEnvelope(data []byte) (payload []byte, uncompressedSize uint64, err error) {
	if len(data) < headerSize+footerSize {
		return nil, 0, errkind.New(errkind.Corruption, fmt.Errorf("%w: record too short", ErrCorruptSession))
	}
	if string(data[:4]) != magic {
		return nil, 0, errkind.New(errkind.Corruption, fmt.Errorf("%w: bad magic", ErrCorruptSession))
	}
	version := binary.BigEndian.Uint16(data[4:6])
	if version != formatVersion {
		return nil, 0, errkind.New(errkind.Corruption, fmt.Errorf("%w: unsupported format version %d", ErrCorruptSession, version))
	}
	flags := binary.BigEndian.Uint16(data[6:8])
	uncompressedSize = binary.BigEndian.Uint64(data[8:16])
	payloadLen := binary.BigEndian.Uint64(data[16:24])

	end := headerSize + int(payloadLen)
	if end+footerSize > len(data) {
		return nil, 0, errkind.New(errkind.Corruption, fmt.Errorf("%w: payload length out of range", ErrCorruptSession))
	}

	stored := data[headerSize:end]
	wantChecksum := binary.BigEndian.Uint32(data[end : end+footerSize])
	if crc32.Checksum(stored, crc32cTable) != wantChecksum {
		return nil, 0, errkind.New(errkind.Corruption, fmt.Errorf("%w: checksum mismatch", ErrCorruptSession))
	}

	if flags&flagCompressed == 0 {
		return stored, uncompressedSize, nil
	}

	codec := compress.New(compress.Balanced)
	out, err := codec.Decompress(stored, int(uncompressedSize))
	if err != nil {
		return nil, 0, errkind.New(errkind.Corruption, fmt.Errorf("%w: decompress: %v", ErrCorruptSession, err))
	}
	return out, uncompressedSize, nil
}

// WriteFile encodes sess and atomically writes it to path: encode to a
// temp file in the session directory, then rename over the target, per
// spec.md §4.4.
func WriteFile(path string, sess *Session, codec *compress.Codec) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errkind.New(errkind.External, fmt.Errorf("write session: mkdir: %w", err))
	}
	data, err := Encode(sess, codec)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errkind.New(errkind.External, fmt.Errorf("write session: create temp: %w", err))
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = atomic.ReplaceFile(tmp, path)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return errkind.New(errkind.External, fmt.Errorf("write session: atomic write: %w", err))
	}
	return nil
}

// ReadFile decodes the session stored at path. A temp file left over
// from an interrupted write (path+".tmp") is safe to ignore/delete, per
// spec.md §6.
func ReadFile(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.New(errkind.External, fmt.Errorf("read session: %w", err))
	}
	return Decode(data)
}

// ReadMetadataFile decodes only the metadata header from the file at
// path, the per-file step of the startup index scan.
func ReadMetadataFile(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, errkind.New(errkind.External, fmt.Errorf("read session metadata: %w", err))
	}
	return DecodeMetadata(data)
}

// SessionPath returns the on-disk path for a session id under root,
// per spec.md §6: "<storage_root>/<session_id>.agcs".
func SessionPath(root, id string) string {
	return filepath.Join(root, id+".agcs")
}

// IsTempFile reports whether name is a leftover "*.agcs.tmp" file safe
// to delete on startup, per spec.md §6.
func IsTempFile(name string) bool {
	return strings.HasSuffix(name, ".agcs.tmp")
}
