// Package security screens AI-generated PHP against a deny-list before it is
// executed. It is a pattern-matching tripwire, not a sandbox: obfuscated or
// dynamically assembled calls will pass. Isolation is the interpreter's job.
package security

import (
	"regexp"
	"strings"
)

// Report is the outcome of validating one code string.
type Report struct {
	Passed     bool     `json:"passed"`
	Violations []string `json:"violations"`
}

// Rule is a single deny-list check. Check receives the raw code and a copy
// with string-literal contents and comments blanked out, and returns the
// violated tokens.
type Rule struct {
	Name  string
	Check func(code, masked string) []string
}

// Validator evaluates an ordered list of rules and collects every violation.
type Validator struct {
	rules []Rule
}

// DeniedFunctions is the ordered list of function names that may not be called.
var DeniedFunctions = []string{
	"exec",
	"shell_exec",
	"system",
	"eval",
	"passthru",
	"popen",
	"proc_open",
	"unlink",
	"rmdir",
	"assert",
}

// DestructiveSQL lists SQL phrases rejected wherever they appear.
var DestructiveSQL = []string{
	"DROP TABLE",
	"DROP DATABASE",
	"TRUNCATE TABLE",
}

// Default returns a validator with the built-in rules.
func Default() *Validator {
	return &Validator{rules: defaultRules()}
}

// WithRules returns a copy of v with extra rules appended after the built-in ones.
func (v *Validator) WithRules(extra ...Rule) *Validator {
	rules := make([]Rule, 0, len(v.rules)+len(extra))
	rules = append(rules, v.rules...)
	rules = append(rules, extra...)
	return &Validator{rules: rules}
}

// Validate runs every rule in order. Each violated token is reported once.
func (v *Validator) Validate(code string) Report {
	masked := maskStringLiterals(code)

	violations := []string{}
	seen := make(map[string]bool)
	for _, r := range v.rules {
		for _, token := range r.Check(code, masked) {
			if seen[token] {
				continue
			}
			seen[token] = true
			violations = append(violations, token)
		}
	}

	return Report{
		Passed:     len(violations) == 0,
		Violations: violations,
	}
}

func defaultRules() []Rule {
	return []Rule{
		deniedFunctionRule(),
		includePathRule(),
		backtickRule(),
		pregReplaceEvalRule(),
		destructiveSQLRule(),
	}
}

// ---------------------------------------------------------------------------
// Rules
// ---------------------------------------------------------------------------

var functionPatterns = compileFunctionPatterns(DeniedFunctions)

func compileFunctionPatterns(names []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(names))
	for i, name := range names {
		patterns[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\s*\(`)
	}
	return patterns
}

func deniedFunctionRule() Rule {
	return Rule{
		Name: "denied-function",
		Check: func(code, _ string) []string {
			var found []string
			for i, pattern := range functionPatterns {
				for _, loc := range pattern.FindAllStringIndex(code, -1) {
					if isFunctionCall(code, loc[0]) {
						found = append(found, DeniedFunctions[i])
						break
					}
				}
			}
			return found
		},
	}
}

// isFunctionCall rejects variable names and function declarations that
// happen to share a denied name. Method and static calls still count.
func isFunctionCall(code string, start int) bool {
	prefix := strings.TrimRight(code[:start], " \t\r\n")
	if strings.HasSuffix(prefix, "$") {
		return false
	}
	lower := strings.ToLower(prefix)
	return !strings.HasSuffix(lower, "function") || endsWithIdentifierChar(lower[:len(lower)-len("function")])
}

func endsWithIdentifierChar(s string) bool {
	if s == "" {
		return false
	}
	c := s[len(s)-1]
	return c == '_' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}

var includePattern = regexp.MustCompile(`(?i)\b(include_once|include|require_once|require)\b\s*`)

// allowedIncludeRoots are constants that anchor an include inside WordPress itself.
var allowedIncludeRoots = []string{"ABSPATH", "WPINC", "WP_CONTENT_DIR", "WP_PLUGIN_DIR"}

func includePathRule() Rule {
	return Rule{
		Name: "include-arbitrary-path",
		Check: func(code, _ string) []string {
			var found []string
			for _, m := range includePattern.FindAllStringSubmatchIndex(code, -1) {
				keyword := strings.ToLower(code[m[2]:m[3]])
				rest := strings.TrimLeft(code[m[1]:], "( \t")
				if anchoredInWordPress(rest) {
					continue
				}
				if startsPathExpression(rest) {
					found = append(found, keyword)
				}
			}
			return found
		},
	}
}

func anchoredInWordPress(expr string) bool {
	for _, root := range allowedIncludeRoots {
		if strings.HasPrefix(expr, root) {
			return true
		}
	}
	return false
}

func startsPathExpression(expr string) bool {
	if expr == "" {
		return false
	}
	switch expr[0] {
	case '\'', '"', '$':
		return true
	}
	lower := strings.ToLower(expr)
	return strings.HasPrefix(lower, "__dir__") || strings.HasPrefix(lower, "dirname") || strings.HasPrefix(lower, "__file__")
}

func backtickRule() Rule {
	return Rule{
		Name: "backtick-shell",
		Check: func(_, masked string) []string {
			if strings.Count(masked, "`") >= 2 {
				return []string{"backtick"}
			}
			return nil
		},
	}
}

var pregReplacePattern = regexp.MustCompile(`(?i)\bpreg_replace\s*\(\s*(['"])`)

func pregReplaceEvalRule() Rule {
	return Rule{
		Name: "preg-replace-eval",
		Check: func(code, _ string) []string {
			for _, m := range pregReplacePattern.FindAllStringSubmatchIndex(code, -1) {
				quote := code[m[2]]
				literal, ok := readQuoted(code[m[3]:], quote)
				if !ok {
					continue
				}
				if modifiers := regexModifiers(literal); strings.Contains(modifiers, "e") {
					return []string{"preg_replace /e"}
				}
			}
			return nil
		},
	}
}

var sqlPatterns = compileSQLPatterns(DestructiveSQL)

func compileSQLPatterns(phrases []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(phrases))
	for i, phrase := range phrases {
		words := strings.Fields(phrase)
		for j, w := range words {
			words[j] = regexp.QuoteMeta(w)
		}
		patterns[i] = regexp.MustCompile(`(?i)\b` + strings.Join(words, `\s+`) + `\b`)
	}
	return patterns
}

func destructiveSQLRule() Rule {
	return Rule{
		Name: "destructive-sql",
		Check: func(code, _ string) []string {
			var found []string
			for i, pattern := range sqlPatterns {
				if pattern.MatchString(code) {
					found = append(found, DestructiveSQL[i])
				}
			}
			return found
		},
	}
}

// ---------------------------------------------------------------------------
// Lexing helpers
// ---------------------------------------------------------------------------

// readQuoted returns the body of a quoted literal whose opening quote has
// already been consumed.
func readQuoted(s string, quote byte) (string, bool) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			b.WriteByte(c)
			b.WriteByte(s[i+1])
			i++
			continue
		}
		if c == quote {
			return b.String(), true
		}
		b.WriteByte(c)
	}
	return "", false
}

var closingDelimiter = map[byte]byte{'(': ')', '{': '}', '[': ']', '<': '>'}

// regexModifiers extracts the trailing modifier letters of a PCRE literal such as "/a/e".
func regexModifiers(pattern string) string {
	pattern = strings.TrimSpace(pattern)
	if len(pattern) < 2 {
		return ""
	}
	open := pattern[0]
	closing := open
	if c, ok := closingDelimiter[open]; ok {
		closing = c
	}
	end := strings.LastIndexByte(pattern[1:], closing)
	if end < 0 {
		return ""
	}
	return pattern[end+2:]
}

// maskStringLiterals blanks the contents of quoted strings, heredocs and
// nowdocs, and blanks comments entirely, so that backticks used as SQL
// identifier quotes or written in prose are not mistaken for shell execution.
func maskStringLiterals(code string) string {
	out := []byte(code)
	n := len(out)
	blank := func(from, to int) {
		for j := from; j < to; j++ {
			if out[j] != '\n' {
				out[j] = ' '
			}
		}
	}

	for i := 0; i < n; i++ {
		switch c := out[i]; {
		case c == '\'' || c == '"':
			end := closingQuote(out, i+1, c)
			blank(i+1, end)
			i = end
		case c == '#' && !(i+1 < n && out[i+1] == '['), c == '/' && i+1 < n && out[i+1] == '/':
			end := lineCommentEnd(out, i)
			blank(i, end)
			i = end - 1
		case c == '/' && i+1 < n && out[i+1] == '*':
			end := n
			if j := strings.Index(string(out[i+2:]), "*/"); j >= 0 {
				end = i + 2 + j + 2
			}
			blank(i, end)
			i = end - 1
		case c == '<' && strings.HasPrefix(string(out[i:]), "<<<"):
			if start, end, ok := heredocBody(out, i); ok {
				blank(start, end)
				i = end - 1
			}
		}
	}
	return string(out)
}

// closingQuote returns the index of the quote closing a literal whose body
// starts at from, or len(b) when it is unterminated.
func closingQuote(b []byte, from int, quote byte) int {
	for j := from; j < len(b); j++ {
		switch b[j] {
		case '\\':
			j++
		case quote:
			return j
		}
	}
	return len(b)
}

// lineCommentEnd returns the index of the newline ending a // or # comment.
// A closing ?> also ends it, as in PHP.
func lineCommentEnd(b []byte, from int) int {
	for j := from; j < len(b); j++ {
		if b[j] == '\n' {
			return j
		}
		if b[j] == '?' && j+1 < len(b) && b[j+1] == '>' {
			return j
		}
	}
	return len(b)
}

var heredocOpen = regexp.MustCompile(`^<<<[ \t]*(["']?)([A-Za-z_][A-Za-z0-9_]*)(["']?)\r?\n`)

// heredocBody locates the body of a heredoc or nowdoc opened at from. The
// returned range covers everything up to, but excluding, the closing
// identifier.
func heredocBody(b []byte, from int) (int, int, bool) {
	m := heredocOpen.FindSubmatchIndex(b[from:])
	if m == nil {
		return 0, 0, false
	}
	if string(b[from+m[2]:from+m[3]]) != string(b[from+m[6]:from+m[7]]) {
		return 0, 0, false
	}
	label := string(b[from+m[4] : from+m[5]])
	closing := regexp.MustCompile(`(?m)^[ \t]*` + regexp.QuoteMeta(label) + `\b`)

	start := from + m[1]
	loc := closing.FindIndex(b[start:])
	if loc == nil {
		return start, len(b), true
	}
	return start, start + loc[0], true
}
