package transcript

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Rule is one deterministic pattern→replacement step.
//
// A rule either substitutes Template (which may contain $1-style
// back-references) for every match, or, when Transform is set, the result of
// calling Transform on the matched text. Every non-overlapping match across
// the whole input is replaced, left to right.
type Rule struct {
	Name      string
	Pattern   *regexp.Regexp
	Template  string
	Transform func(match string) string
}

// Apply runs the rule over s.
func (r Rule) Apply(s string) string {
	if r.Transform != nil {
		return r.Pattern.ReplaceAllStringFunc(s, r.Transform)
	}
	return r.Pattern.ReplaceAllString(s, r.Template)
}

// Contractions maps informal tokens missing their apostrophe to the written
// form.
var Contractions = map[string]string{
	"dont":     "don't",
	"cant":     "can't",
	"im":       "I'm",
	"thats":    "that's",
	"theres":   "there's",
	"wont":     "won't",
	"werent":   "weren't",
	"wouldnt":  "wouldn't",
	"couldnt":  "couldn't",
	"shouldnt": "shouldn't",
	"aint":     "ain't",
}

// Fillers maps informal spoken forms to their expansion.
var Fillers = map[string]string{
	"gonna": "going to",
	"wanna": "want to",
}

// DefaultRules is the fixed, ordered correction table.
var DefaultRules = []Rule{
	{
		Name:     "period-spacing",
		Pattern:  regexp.MustCompile(`\b\.\b`),
		Template: ". ",
	},
	{
		Name:     "comma-spacing",
		Pattern:  regexp.MustCompile(`\b,\b`),
		Template: ", ",
	},
	{
		Name:      "capitalize-first",
		Pattern:   regexp.MustCompile(`^\s*[a-z]`),
		Transform: UpperFirstLetter,
	},
	{
		Name:      "capitalize-sentence",
		Pattern:   regexp.MustCompile(`[.!?]\s+[a-z]`),
		Transform: UpperFirstLetter,
	},
	{
		Name:     "pronoun-i",
		Pattern:  regexp.MustCompile(`\bi\b`),
		Template: "I",
	},
	TokenRule("contractions", Contractions),
	TokenRule("fillers", Fillers),
	{
		Name:     "collapse-whitespace",
		Pattern:  regexp.MustCompile(`\s+`),
		Template: " ",
	},
}

// UpperFirstLetter uppercases the first letter in s and leaves the rest
// unchanged.
func UpperFirstLetter(s string) string {
	for i, r := range s {
		if unicode.IsLetter(r) {
			return s[:i] + string(unicode.ToUpper(r)) + s[i+utf8.RuneLen(r):]
		}
	}
	return s
}

// TokenRule builds a rule that replaces standalone tokens found in table.
//
// Keys match as exact lowercase tokens. The capitalised form of a key also
// matches when it opens a sentence (start of text, or after '.', '!' or '?'
// plus whitespace) since the casing rules put it there; its replacement keeps
// the leading capital. Any other casing is left untouched.
func TokenRule(name string, table map[string]string) Rule {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, regexp.QuoteMeta(k))
	}
	// Longest first so no key shadows a longer one sharing its prefix.
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	caps := make([]string, len(keys))
	for i, k := range keys {
		caps[i] = UpperFirstLetter(k)
	}

	pattern := regexp.MustCompile(
		`(?:^\s*|[.!?]\s+)(?:` + strings.Join(caps, "|") + `)\b` +
			`|\b(?:` + strings.Join(keys, "|") + `)\b`,
	)

	return Rule{
		Name:    name,
		Pattern: pattern,
		Transform: func(match string) string {
			start := strings.IndexFunc(match, unicode.IsLetter)
			prefix, token := match[:start], match[start:]
			lower := strings.ToLower(token)
			repl, ok := table[lower]
			if !ok {
				return match
			}
			if token != lower {
				repl = UpperFirstLetter(repl)
			}
			return prefix + repl
		},
	}
}
