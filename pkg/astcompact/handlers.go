package astcompact

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/docker/agent-substrate/pkg/parser"
)

// nodeRule maps one tree-sitter node type to an Element Kind for a
// given language, plus which field (if any) carries the declaration's
// name.
type nodeRule struct {
	nodeType  string
	kind      Kind
	nameField string
}

// langRules is grounded in the parser package's teacher (Go function
// extraction) generalized using the node-type tables surveyed across
// the retrieval pack's other tree-sitter chunkers (Java/JS/TS).
var langRules = map[parser.Language][]nodeRule{
	parser.LangGo: {
		{"function_declaration", KindFunction, "name"},
		{"method_declaration", KindMethod, "name"},
		{"type_declaration", KindStruct, ""},
		{"const_declaration", KindConstant, ""},
		{"var_declaration", KindVariable, ""},
		{"import_declaration", KindImport, ""},
	},
	parser.LangPython: {
		{"function_definition", KindFunction, "name"},
		{"class_definition", KindStruct, "name"},
		{"import_statement", KindImport, ""},
		{"import_from_statement", KindImport, ""},
	},
	parser.LangJavaScript: {
		{"function_declaration", KindFunction, "name"},
		{"class_declaration", KindStruct, "name"},
		{"method_definition", KindMethod, "name"},
		{"import_statement", KindImport, ""},
		{"export_statement", KindExport, ""},
	},
	parser.LangTypeScript: {
		{"function_declaration", KindFunction, "name"},
		{"class_declaration", KindStruct, "name"},
		{"interface_declaration", KindInterface, "name"},
		{"method_definition", KindMethod, "name"},
		{"type_alias_declaration", KindEnum, "name"},
		{"import_statement", KindImport, ""},
		{"export_statement", KindExport, ""},
	},
	parser.LangTSX: {
		{"function_declaration", KindFunction, "name"},
		{"class_declaration", KindStruct, "name"},
		{"interface_declaration", KindInterface, "name"},
		{"method_definition", KindMethod, "name"},
		{"import_statement", KindImport, ""},
		{"export_statement", KindExport, ""},
	},
	parser.LangJava: {
		{"class_declaration", KindStruct, "name"},
		{"interface_declaration", KindInterface, "name"},
		{"enum_declaration", KindEnum, "name"},
		{"method_declaration", KindMethod, "name"},
		{"constructor_declaration", KindMethod, "name"},
		{"import_declaration", KindImport, ""},
	},
	parser.LangRust: {
		{"function_item", KindFunction, "name"},
		{"struct_item", KindStruct, "name"},
		{"enum_item", KindEnum, "name"},
		{"trait_item", KindInterface, "name"},
		{"impl_item", KindMethod, ""},
		{"const_item", KindConstant, "name"},
		{"use_declaration", KindImport, ""},
	},
	parser.LangC: {
		{"function_definition", KindFunction, ""},
		{"struct_specifier", KindStruct, "name"},
		{"enum_specifier", KindEnum, "name"},
		{"preproc_include", KindImport, ""},
	},
	parser.LangCPP: {
		{"function_definition", KindFunction, ""},
		{"class_specifier", KindStruct, "name"},
		{"struct_specifier", KindStruct, "name"},
		{"enum_specifier", KindEnum, "name"},
		{"preproc_include", KindImport, ""},
	},
	parser.LangRuby: {
		{"method", KindMethod, "name"},
		{"class", KindStruct, "name"},
		{"module", KindStruct, "name"},
	},
}

// commentNodeType is tree-sitter's near-universal node name for comments
// across the C-family and script-language grammars used here.
const commentNodeType = "comment"

// handlerFor returns the extraction function for lang: the dedicated
// node-rule walker when one is registered, otherwise a generic fallback
// that recognizes declaration keywords at line starts the way spec.md
// §4.3's chunk boundary rule does, so every supported language still
// yields usable Elements.
func handlerFor(lang parser.Language) func(tree *sitter.Tree, source []byte) []Element {
	if rules, ok := langRules[lang]; ok {
		return func(tree *sitter.Tree, source []byte) []Element {
			return extractByRules(lang, tree.RootNode(), source, rules)
		}
	}
	return func(tree *sitter.Tree, source []byte) []Element {
		return extractGeneric(tree.RootNode(), source)
	}
}

func extractByRules(lang parser.Language, root *sitter.Node, source []byte, rules []nodeRule) []Element {
	ruleFor := make(map[string]nodeRule, len(rules))
	for _, r := range rules {
		ruleFor[r.nodeType] = r
	}

	var elements []Element
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if rule, ok := ruleFor[n.Type()]; ok {
			elements = append(elements, buildElement(lang, n, source, rule))
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)

	elements = append(elements, extractComments(root, source)...)
	return elements
}

func buildElement(lang parser.Language, n *sitter.Node, source []byte, rule nodeRule) Element {
	docStart := precedingCommentStart(n, source)
	startByte := int(n.StartByte())
	endByte := int(n.EndByte())

	name := ""
	if rule.nameField != "" {
		if nameNode := n.ChildByFieldName(rule.nameField); nameNode != nil {
			name = nodeText(source, nameNode)
		}
	}
	if name == "" {
		name = firstIdentifier(n, source)
	}

	doc := ""
	if docStart < startByte {
		doc = strings.TrimSpace(string(source[docStart:startByte]))
	}

	return Element{
		Kind:          rule.kind,
		Name:          name,
		StartLine:     int(n.StartPoint().Row) + 1,
		EndLine:       int(n.EndPoint().Row) + 1,
		Source:        strings.TrimSpace(string(source[startByte:endByte])),
		Visibility:    visibilityOf(lang, name, string(source[startByte:endByte])),
		Documentation: doc,
		Detail:        Detail{Signature: signatureOf(string(source[startByte:endByte]))},
		importance:    importanceOf(rule.kind),
	}
}

func extractComments(root *sitter.Node, source []byte) []Element {
	var comments []Element
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if n.Type() == commentNodeType {
			text := strings.TrimSpace(nodeText(source, n))
			if text != "" {
				comments = append(comments, Element{
					Kind:       KindComment,
					Name:       "",
					StartLine:  int(n.StartPoint().Row) + 1,
					EndLine:    int(n.EndPoint().Row) + 1,
					Source:     text,
					Visibility: VisibilityPublic,
					importance: importanceOf(KindComment),
				})
			}
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return comments
}

// extractGeneric is the fallback handler for languages without a
// dedicated nodeRule table: it scans every line, ignoring leading
// whitespace, for the
// declaration keywords spec.md §4.3's chunk boundary rule names.
var genericDeclarationKeywords = []string{
	"func ", "fn ", "pub fn ", "struct ", "impl ", "def ", "class ",
	"type ", "interface ", "enum ", "const ", "var ",
}

func extractGeneric(root *sitter.Node, source []byte) []Element {
	lines := strings.Split(string(source), "\n")
	var elements []Element

	var currentStart = -1
	var currentKeyword string
	flush := func(endLine int) {
		if currentStart < 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(lines[currentStart:endLine], "\n"))
		if text != "" {
			kind := KindFunction
			if currentKeyword == "struct " || currentKeyword == "class " {
				kind = KindStruct
			}
			elements = append(elements, Element{
				Kind:       kind,
				StartLine:  currentStart + 1,
				EndLine:    endLine,
				Source:     text,
				Visibility: VisibilityPublic,
				importance: importanceOf(kind),
			})
		}
		currentStart = -1
	}

	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		matched := ""
		for _, kw := range genericDeclarationKeywords {
			if strings.HasPrefix(trimmed, kw) {
				matched = kw
				break
			}
		}
		if matched != "" {
			flush(i)
			currentStart = i
			currentKeyword = matched
		}
	}
	flush(len(lines))

	for _, e := range extractComments(root, source) {
		elements = append(elements, e)
	}
	return elements
}

func nodeText(source []byte, n *sitter.Node) string {
	if n == nil {
		return ""
	}
	start, end := int(n.StartByte()), int(n.EndByte())
	if end <= start || end > len(source) {
		return ""
	}
	return string(source[start:end])
}

func firstIdentifier(n *sitter.Node, source []byte) string {
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil {
			continue
		}
		if strings.Contains(child.Type(), "identifier") {
			return nodeText(source, child)
		}
	}
	return ""
}

// precedingCommentStart walks backward through n's siblings collecting
// an adjacent comment run, the way the parser package's teacher does
// for Go doc comments, generalized to any grammar using "comment" nodes.
func precedingCommentStart(n *sitter.Node, source []byte) int {
	startByte := int(n.StartByte())
	parent := n.Parent()
	if parent == nil {
		return startByte
	}

	fnIndex := -1
	for i := 0; i < int(parent.ChildCount()); i++ {
		if parent.Child(i) == n {
			fnIndex = i
			break
		}
	}
	if fnIndex <= 0 {
		return startByte
	}

	earliest := startByte
	for i := fnIndex - 1; i >= 0; i-- {
		sibling := parent.Child(i)
		if sibling == nil {
			break
		}
		if sibling.Type() == commentNodeType {
			earliest = int(sibling.StartByte())
			continue
		}
		text := strings.TrimSpace(nodeText(source, sibling))
		if text != "" {
			break
		}
	}
	return earliest
}

// visibilityOf applies each language's own export convention: Go's
// leading-case rule, Rust's explicit "pub", Java's access modifiers,
// and the leading-underscore convention shared by Python and
// JavaScript/TypeScript. Defaults to public when a language has no
// such convention or the name is empty.
func visibilityOf(lang parser.Language, name, source string) Visibility {
	trimmed := strings.TrimLeft(source, " \t")

	switch lang {
	case parser.LangGo:
		if name == "" {
			return VisibilityPublic
		}
		if r := []rune(name)[0]; r >= 'a' && r <= 'z' {
			return VisibilityPrivate
		}
		return VisibilityPublic
	case parser.LangRust:
		if strings.HasPrefix(trimmed, "pub ") || strings.HasPrefix(trimmed, "pub(") {
			return VisibilityPublic
		}
		return VisibilityPrivate
	case parser.LangJava, parser.LangCSharp, parser.LangCPP, parser.LangC:
		if strings.Contains(trimmed[:min(len(trimmed), 40)], "private") {
			return VisibilityPrivate
		}
		return VisibilityPublic
	case parser.LangPython, parser.LangJavaScript, parser.LangTypeScript, parser.LangTSX, parser.LangRuby:
		if strings.HasPrefix(name, "_") {
			return VisibilityPrivate
		}
		return VisibilityPublic
	default:
		return VisibilityPublic
	}
}

func signatureOf(source string) string {
	text := strings.TrimSpace(source)
	if idx := strings.Index(text, "{"); idx != -1 {
		text = strings.TrimSpace(text[:idx])
	}
	if idx := strings.Index(text, "\n"); idx != -1 {
		text = strings.TrimSpace(text[:idx])
	}
	const limit = 240
	runes := []rune(text)
	if len(runes) > limit {
		return string(runes[:limit])
	}
	return text
}
