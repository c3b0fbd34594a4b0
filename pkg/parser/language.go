// Package parser implements the process-wide parser pool and parse-tree
// cache: checkout/check-in of tree-sitter parser instances per language,
// language detection, and an LRU cache of recent parse results.
package parser

import (
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/css"
	"github.com/smacker/go-tree-sitter/dockerfile"
	"github.com/smacker/go-tree-sitter/elixir"
	"github.com/smacker/go-tree-sitter/elm"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/groovy"
	"github.com/smacker/go-tree-sitter/hcl"
	"github.com/smacker/go-tree-sitter/html"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/kotlin"
	"github.com/smacker/go-tree-sitter/lua"
	"github.com/smacker/go-tree-sitter/ocaml"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/protobuf"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/scala"
	"github.com/smacker/go-tree-sitter/svelte"
	"github.com/smacker/go-tree-sitter/swift"
	"github.com/smacker/go-tree-sitter/toml"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
	"github.com/smacker/go-tree-sitter/yaml"
)

// Language identifies a grammar by its canonical lowercase name, e.g.
// "go", "python", "typescript".
type Language string

const (
	LangGo         Language = "go"
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangTSX        Language = "tsx"
	LangJava       Language = "java"
	LangC          Language = "c"
	LangCPP        Language = "cpp"
	LangCSharp     Language = "csharp"
	LangRuby       Language = "ruby"
	LangRust       Language = "rust"
	LangBash       Language = "bash"
	LangCSS        Language = "css"
	LangHTML       Language = "html"
	LangPHP        Language = "php"
	LangScala      Language = "scala"
	LangKotlin     Language = "kotlin"
	LangLua        Language = "lua"
	LangProtobuf   Language = "protobuf"
	LangYAML       Language = "yaml"
	LangTOML       Language = "toml"
	LangGroovy     Language = "groovy"
	LangSwift      Language = "swift"
	LangElixir     Language = "elixir"
	LangElm        Language = "elm"
	LangHCL        Language = "hcl"
	LangDockerfile Language = "dockerfile"
	LangOCaml      Language = "ocaml"
	LangSvelte     Language = "svelte"
)

// languageGetters lazily builds *sitter.Language values. Each grammar
// carries a non-trivial amount of generated tables; only build the ones
// actually requested.
var languageGetters = map[Language]func() *sitter.Language{
	LangGo:         golang.GetLanguage,
	LangPython:     python.GetLanguage,
	LangJavaScript: javascript.GetLanguage,
	LangTypeScript: typescript.GetLanguage,
	LangTSX:        tsx.GetLanguage,
	LangJava:       java.GetLanguage,
	LangC:          c.GetLanguage,
	LangCPP:        cpp.GetLanguage,
	LangCSharp:     csharp.GetLanguage,
	LangRuby:       ruby.GetLanguage,
	LangRust:       rust.GetLanguage,
	LangBash:       bash.GetLanguage,
	LangCSS:        css.GetLanguage,
	LangHTML:       html.GetLanguage,
	LangPHP:        php.GetLanguage,
	LangScala:      scala.GetLanguage,
	LangKotlin:     kotlin.GetLanguage,
	LangLua:        lua.GetLanguage,
	LangProtobuf:   protobuf.GetLanguage,
	LangYAML:       yaml.GetLanguage,
	LangTOML:       toml.GetLanguage,
	LangGroovy:     groovy.GetLanguage,
	LangSwift:      swift.GetLanguage,
	LangElixir:     elixir.GetLanguage,
	LangElm:        elm.GetLanguage,
	LangHCL:        hcl.GetLanguage,
	LangDockerfile: dockerfile.GetLanguage,
	LangOCaml:      ocaml.GetLanguage,
	LangSvelte:     svelte.GetLanguage,
}

// extensionTable maps lowercase file extensions (with leading dot) to a
// Language. Checked before shebang/content heuristics in DetectLanguage.
var extensionTable = map[string]Language{
	".go":    LangGo,
	".py":    LangPython,
	".pyw":   LangPython,
	".js":    LangJavaScript,
	".mjs":   LangJavaScript,
	".cjs":   LangJavaScript,
	".jsx":   LangJavaScript,
	".ts":    LangTypeScript,
	".mts":   LangTypeScript,
	".tsx":   LangTSX,
	".java":  LangJava,
	".c":     LangC,
	".h":     LangC,
	".cc":    LangCPP,
	".cpp":   LangCPP,
	".cxx":   LangCPP,
	".hpp":   LangCPP,
	".cs":    LangCSharp,
	".rb":    LangRuby,
	".rs":    LangRust,
	".sh":    LangBash,
	".bash":  LangBash,
	".css":   LangCSS,
	".html":  LangHTML,
	".htm":   LangHTML,
	".php":   LangPHP,
	".scala": LangScala,
	".kt":    LangKotlin,
	".kts":   LangKotlin,
	".lua":   LangLua,
	".proto": LangProtobuf,
	".yaml":  LangYAML,
	".yml":   LangYAML,
	".toml":  LangTOML,
	".groovy": LangGroovy,
	".swift":  LangSwift,
	".ex":     LangElixir,
	".exs":    LangElixir,
	".elm":    LangElm,
	".hcl":    LangHCL,
	".tf":     LangHCL,
	".ml":     LangOCaml,
	".svelte": LangSvelte,
}

// shebangTable maps interpreter basenames found on a #! line to a Language.
var shebangTable = map[string]Language{
	"python":  LangPython,
	"python3": LangPython,
	"node":    LangJavaScript,
	"bash":    LangBash,
	"sh":      LangBash,
	"ruby":    LangRuby,
}

// Get returns the tree-sitter Language for lang, or false if lang is not
// a registered grammar.
func Get(lang Language) (*sitter.Language, bool) {
	getter, ok := languageGetters[lang]
	if !ok {
		return nil, false
	}
	return getter(), true
}

// Supported reports whether lang has a registered grammar.
func Supported(lang Language) bool {
	_, ok := languageGetters[lang]
	return ok
}

// DetectLanguage identifies the language of a file by its path and/or
// content: extension table first, then the file name Dockerfile, then a
// shebang line read from content. Returns false
// when no language can be determined; this is not an error by itself.
func DetectLanguage(path string, content []byte) (Language, bool) {
	if path != "" {
		ext := strings.ToLower(extOf(path))
		if lang, ok := extensionTable[ext]; ok {
			return lang, true
		}
		base := strings.ToLower(baseOf(path))
		if base == "dockerfile" {
			return LangDockerfile, true
		}
	}

	if len(content) > 0 && utf8.Valid(content) {
		if lang, ok := detectFromShebang(content); ok {
			return lang, true
		}
	}

	return "", false
}

func detectFromShebang(content []byte) (Language, bool) {
	firstLine := content
	if i := strings.IndexByte(string(content), '\n'); i >= 0 {
		firstLine = content[:i]
	}
	line := strings.TrimSpace(string(firstLine))
	if !strings.HasPrefix(line, "#!") {
		return "", false
	}
	line = strings.TrimPrefix(line, "#!")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", false
	}
	interpreter := baseOf(fields[0])
	if interpreter == "env" && len(fields) > 1 {
		interpreter = fields[1]
	}
	lang, ok := shebangTable[interpreter]
	return lang, ok
}

func extOf(path string) string {
	idx := strings.LastIndexByte(path, '.')
	slash := strings.LastIndexAny(path, "/\\")
	if idx <= slash {
		return ""
	}
	return path[idx:]
}

func baseOf(path string) string {
	idx := strings.LastIndexAny(path, "/\\")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}
