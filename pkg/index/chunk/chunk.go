// Package chunk splits source text into bounded Chunks, either by a
// sliding window over raw text (the fallback path) or by declaration
// boundaries detected from a language's leading-keyword table (the
// semantic path used once a file has been reduced by astcompact).
// Grounded in the teacher's pkg/rag/chunk document processor, generalized
// from its word-boundary sliding window to spec.md §3's declaration-edge
// rule.
package chunk

import (
	"strings"

	"github.com/docker/agent-substrate/pkg/parser"
)

// Kind classifies the declaration (if any) a Chunk was cut on.
type Kind string

const (
	KindFunction Kind = "function"
	KindStruct   Kind = "struct"
	KindEnum     Kind = "enum"
	KindTrait    Kind = "trait"
	KindModule   Kind = "module"
	KindComment  Kind = "comment"
	KindUnknown  Kind = "unknown"
)

// Chunk is one bounded slice of source, spec.md §3.
type Chunk struct {
	ChunkID         string
	DocumentID      string
	Content         string
	Language        parser.Language
	StartLine       int
	EndLine         int
	Kind            Kind
	EstimatedTokens int
}

// Options configures chunking. MaxChunkSize and ChunkOverlap are in
// bytes; EstimatedTokens is computed as len(content)/4, the same rough
// heuristic the teacher's budget accounting uses elsewhere in the pack
// for token counts without a tokenizer on hand.
type Options struct {
	MaxChunkSize int
	ChunkOverlap int
	Language     parser.Language
}

const (
	// DefaultMaxChunkSize bounds a Chunk's content length absent caller
	// configuration.
	DefaultMaxChunkSize = 1500
	// DefaultChunkOverlap is the sliding-window overlap used when
	// ChunkOverlap is 0; a negative ChunkOverlap disables overlap.
	DefaultChunkOverlap = 200
)

func normalize(opts Options) Options {
	if opts.MaxChunkSize <= 0 {
		opts.MaxChunkSize = DefaultMaxChunkSize
	}
	if opts.ChunkOverlap == 0 {
		opts.ChunkOverlap = DefaultChunkOverlap
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = 0
	}
	if opts.ChunkOverlap >= opts.MaxChunkSize {
		opts.ChunkOverlap = opts.MaxChunkSize / 4
	}
	return opts
}

func estimateTokens(content string) int {
	n := len(content) / 4
	if n == 0 && content != "" {
		n = 1
	}
	return n
}

// declarationKeywords lists the leading tokens that start a new chunk
// for a language, per spec.md §4.3's "chunk boundary rule per language".
var declarationKeywords = map[parser.Language][]string{
	parser.LangGo:         {"func ", "func("},
	parser.LangRust:       {"fn ", "pub fn ", "struct ", "impl ", "trait ", "enum "},
	parser.LangPython:     {"def ", "class "},
	parser.LangJava:       {"class ", "interface ", "enum "},
	parser.LangCSharp:     {"class ", "interface ", "struct ", "enum "},
	parser.LangJavaScript: {"function ", "class "},
	parser.LangTypeScript: {"function ", "class ", "interface ", "type "},
	parser.LangTSX:        {"function ", "class ", "interface ", "type "},
	parser.LangC:          {"struct ", "typedef "},
	parser.LangCPP:        {"struct ", "class ", "namespace "},
	parser.LangRuby:       {"def ", "class ", "module "},
}

func keywordsFor(lang parser.Language) []string {
	if kws, ok := declarationKeywords[lang]; ok {
		return kws
	}
	return nil
}

func startsDeclaration(line string, keywords []string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	for _, kw := range keywords {
		if strings.HasPrefix(trimmed, kw) {
			return true
		}
	}
	return false
}

func classify(line string) Kind {
	trimmed := strings.TrimLeft(line, " \t")
	switch {
	case strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "/*"):
		return KindComment
	case strings.Contains(trimmed, "func ") || strings.Contains(trimmed, "def ") || strings.Contains(trimmed, "fn ") || strings.Contains(trimmed, "function "):
		return KindFunction
	case strings.Contains(trimmed, "struct "):
		return KindStruct
	case strings.Contains(trimmed, "enum "):
		return KindEnum
	case strings.Contains(trimmed, "trait ") || strings.Contains(trimmed, "interface "):
		return KindTrait
	case strings.Contains(trimmed, "class ") || strings.Contains(trimmed, "module ") || strings.Contains(trimmed, "namespace "):
		return KindModule
	default:
		return KindUnknown
	}
}

// DeclarationAware splits source into Chunks at declaration edges
// (spec.md §3: "when produced by semantic extraction, the boundary is
// at a declaration edge"), still respecting MaxChunkSize as a fallback
// split point for declarations that run long.
func DeclarationAware(source string, opts Options) []Chunk {
	opts = normalize(opts)
	keywords := keywordsFor(opts.Language)
	if len(keywords) == 0 {
		return SlidingWindow(source, opts)
	}

	lines := strings.Split(source, "\n")
	var chunks []Chunk
	var cur strings.Builder
	startLine := 1

	flush := func(endLine int) {
		content := strings.TrimRight(cur.String(), "\n")
		if strings.TrimSpace(content) == "" {
			cur.Reset()
			return
		}
		chunks = append(chunks, Chunk{
			Content:         content,
			Language:        opts.Language,
			StartLine:       startLine,
			EndLine:         endLine,
			Kind:            classify(content),
			EstimatedTokens: estimateTokens(content),
		})
		cur.Reset()
	}

	for i, line := range lines {
		lineNo := i + 1
		newDecl := startsDeclaration(line, keywords) && cur.Len() > 0
		overSize := cur.Len()+len(line)+1 > opts.MaxChunkSize && cur.Len() > 0

		if newDecl || overSize {
			flush(lineNo - 1)
			startLine = lineNo
		}

		cur.WriteString(line)
		cur.WriteByte('\n')
	}
	flush(len(lines))

	if len(chunks) == 0 {
		return SlidingWindow(source, opts)
	}
	return chunks
}

// SlidingWindow splits text into overlapping chunks of at most
// MaxChunkSize bytes with ChunkOverlap bytes of overlap to the previous
// chunk, the text fallback path of spec.md §3.
func SlidingWindow(source string, opts Options) []Chunk {
	opts = normalize(opts)
	if len(source) == 0 {
		return nil
	}

	lineStarts := computeLineStarts(source)

	var chunks []Chunk
	start := 0
	for start < len(source) {
		end := start + opts.MaxChunkSize
		if end > len(source) {
			end = len(source)
		}
		// Avoid cutting mid-line when a newline is nearby.
		if end < len(source) {
			if idx := strings.LastIndexByte(source[start:end], '\n'); idx > opts.MaxChunkSize/2 {
				end = start + idx + 1
			}
		}

		content := strings.TrimRight(source[start:end], "\n")
		if strings.TrimSpace(content) != "" {
			chunks = append(chunks, Chunk{
				Content:         content,
				Language:        opts.Language,
				StartLine:       lineOf(lineStarts, start),
				EndLine:         lineOf(lineStarts, end),
				Kind:            KindUnknown,
				EstimatedTokens: estimateTokens(content),
			})
		}

		if end >= len(source) {
			break
		}
		next := end - opts.ChunkOverlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

func computeLineStarts(source string) []int {
	starts := []int{0}
	for i, b := range []byte(source) {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func lineOf(lineStarts []int, offset int) int {
	lo, hi := 0, len(lineStarts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if lineStarts[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo + 1
}
