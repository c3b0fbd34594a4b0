package astcompact

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/docker/agent-substrate/pkg/parser"
)

// Compactor runs §4.2 against a shared parser.Service so callers amortize
// the parse-tree pool and cache across many Compact calls.
type Compactor struct {
	parser *parser.Service
}

// NewCompactor returns a Compactor backed by svc.
func NewCompactor(svc *parser.Service) *Compactor {
	return &Compactor{parser: svc}
}

// Compact reduces source to a CompactionResult per opts.
func (c *Compactor) Compact(ctx context.Context, source []byte, opts Options) (*CompactionResult, error) {
	if len(source) == 0 {
		return nil, wrapEmptyInput()
	}

	lang := opts.Language
	if lang == "" {
		detected, ok := parser.DetectLanguage("", source)
		if !ok {
			return nil, wrapLanguageDetectionFailed()
		}
		lang = detected
	}
	if !parser.Supported(lang) {
		return nil, wrapParserInitError(lang, fmt.Errorf("no grammar registered"))
	}

	tree, err := c.parser.Parse(ctx, lang, source)
	if err != nil {
		return nil, wrapParseError(err)
	}

	handler := handlerFor(lang)
	elements := handler(tree.Tree, source)

	metrics := Metrics{
		ElementsExtracted: len(elements),
		NodesProcessed:    countNodes(tree),
	}

	filtered := applyFilters(elements, opts)
	metrics.ElementsFiltered = len(elements) - len(filtered)

	sortElements(filtered)

	return &CompactionResult{
		CompactSource: format(filtered, opts),
		Elements:      filtered,
		Metrics:       metrics,
	}, nil
}

func countNodes(tree *parser.ParseTree) int {
	if tree == nil || tree.Tree == nil || tree.Tree.RootNode() == nil {
		return 0
	}
	var count int
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		count++
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(tree.Tree.RootNode())
	return count
}

func applyFilters(elements []Element, opts Options) []Element {
	kept := make([]Element, 0, len(elements))
	for _, e := range elements {
		if !opts.IncludePrivate && e.Visibility == VisibilityPrivate {
			continue
		}
		if !passesCustomFilters(e, opts.ElementFilters) {
			continue
		}
		if opts.PreserveSignaturesOnly && (e.Kind == KindFunction || e.Kind == KindMethod) {
			e.Source = e.Detail.Signature
		}
		if !opts.PreserveDocs {
			e.Documentation = ""
		}
		kept = append(kept, e)
	}
	return kept
}

func passesCustomFilters(e Element, filters []ElementFilter) bool {
	if len(filters) == 0 {
		return true
	}
	// Filters of the same Kind+substring combine: any Include=false match
	// excludes; otherwise at least one Include=true filter targeting this
	// kind must match (filters targeting other kinds don't constrain it).
	targeted := false
	included := false
	for _, f := range filters {
		if f.Kind != "" && f.Kind != e.Kind {
			continue
		}
		if f.Include {
			targeted = true
		}
		if !f.matches(e) {
			continue
		}
		if !f.Include {
			return false
		}
		included = true
	}
	if !targeted {
		return true
	}
	return included
}

// format groups elements by kind, emitted in a fixed importance order,
// documentation-first when PreserveDocs is set, with blank-line
// separation and section headers, per spec.md §4.2's output formatting
// rule.
func format(elements []Element, opts Options) string {
	order := []Kind{
		KindInterface, KindStruct, KindEnum, KindFunction, KindMethod,
		KindConstant, KindVariable, KindImport, KindExport, KindComment,
	}

	byKind := make(map[Kind][]Element, len(order))
	for _, e := range elements {
		byKind[e.Kind] = append(byKind[e.Kind], e)
	}

	var b strings.Builder
	for _, kind := range order {
		group := byKind[kind]
		if len(group) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n\n", sectionHeader(kind))
		for i, e := range group {
			if i > 0 {
				b.WriteString("\n\n")
			}
			if opts.PreserveDocs && e.Documentation != "" {
				b.WriteString(e.Documentation)
				b.WriteString("\n")
			}
			b.WriteString(e.Source)
		}
	}
	return b.String()
}

func sectionHeader(kind Kind) string {
	switch kind {
	case KindInterface:
		return "Interfaces"
	case KindStruct:
		return "Types"
	case KindEnum:
		return "Enums"
	case KindFunction:
		return "Functions"
	case KindMethod:
		return "Methods"
	case KindConstant:
		return "Constants"
	case KindVariable:
		return "Variables"
	case KindImport:
		return "Imports"
	case KindExport:
		return "Exports"
	case KindComment:
		return "Comments"
	default:
		return string(kind)
	}
}
