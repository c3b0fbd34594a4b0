// Package astcompact reduces a parsed tree to a compact, language-agnostic
// set of Elements (functions, types, imports, variables, comments,
// exports) suitable for semantic chunking or display, generalizing the
// function-extraction approach the parser package's teacher used for Go
// alone to every language the parser pool supports.
package astcompact

import (
	"errors"
	"fmt"

	"github.com/docker/agent-substrate/pkg/errkind"
	"github.com/docker/agent-substrate/pkg/parser"
)

// Kind discriminates the sort of declaration an Element represents.
type Kind string

const (
	KindInterface Kind = "interface"
	KindStruct    Kind = "struct"
	KindEnum      Kind = "enum"
	KindFunction  Kind = "function"
	KindMethod    Kind = "method"
	KindConstant  Kind = "constant"
	KindVariable  Kind = "variable"
	KindImport    Kind = "import"
	KindExport    Kind = "export"
	KindComment   Kind = "comment"
)

// Visibility is whether an Element is part of a package's public
// surface, as far as the language's naming or keyword conventions allow
// us to tell.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Detail carries kind-specific structured data alongside an Element's
// raw source slice: a function's signature, a struct's field list, an
// enum's variants. Only the fields relevant to Element.Kind are set.
type Detail struct {
	Signature string
	Receiver  string
	Fields    []string
	Variants  []string
}

// Element is one declaration extracted from a parse tree.
type Element struct {
	Kind          Kind
	Name          string
	StartLine     int
	EndLine       int
	Source        string
	Visibility    Visibility
	Documentation string
	Detail        Detail

	importance int
}

// Options configures Compact.
type Options struct {
	Language               parser.Language
	IncludePrivate         bool
	PreserveDocs           bool
	PreserveSignaturesOnly bool
	ElementFilters         []ElementFilter
}

// ElementFilter keeps or discards Elements whose Kind matches and whose
// Name contains NameSubstring (case-sensitive, empty matches all names).
type ElementFilter struct {
	Kind          Kind
	NameSubstring string
	Include       bool
}

func (f ElementFilter) matches(e Element) bool {
	if f.Kind != "" && f.Kind != e.Kind {
		return false
	}
	if f.NameSubstring == "" {
		return true
	}
	return containsSubstring(e.Name, f.NameSubstring)
}

func containsSubstring(s, substr string) bool {
	return len(substr) == 0 || (len(s) >= len(substr) && indexOf(s, substr) >= 0)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// Metrics summarizes a Compact call.
type Metrics struct {
	ElementsExtracted int
	ElementsFiltered  int
	NodesProcessed    int
}

// CompactionResult is the output of Compact: the formatted compact
// source, the ordered element list it was built from, and run metrics.
type CompactionResult struct {
	CompactSource string
	Elements      []Element
	Metrics       Metrics
}

// Sentinel errors matching spec.md §4.2's failure semantics. Each is
// classified via errkind so callers can switch on Kind without string
// matching.
var (
	ErrEmptyInput              = errors.New("empty input")
	ErrLanguageDetectionFailed = errors.New("language detection failed")
)

// ParseError wraps a failure to parse the given source.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse error: %s", e.Message) }

// ParserInitError wraps a failure to initialize a language's grammar.
type ParserInitError struct {
	Language parser.Language
	Message  string
}

func (e *ParserInitError) Error() string {
	return fmt.Sprintf("parser init error for %s: %s", e.Language, e.Message)
}

func wrapEmptyInput() error {
	return errkind.New(errkind.Input, ErrEmptyInput)
}

func wrapLanguageDetectionFailed() error {
	return errkind.New(errkind.Input, ErrLanguageDetectionFailed)
}

func wrapParseError(err error) error {
	return errkind.New(errkind.Internal, &ParseError{Message: err.Error()})
}

func wrapParserInitError(lang parser.Language, err error) error {
	return errkind.New(errkind.Internal, &ParserInitError{Language: lang, Message: err.Error()})
}
