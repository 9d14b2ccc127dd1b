package textclean

import (
	"regexp"
	"strings"
)

// RulesetVersion identifies the rule list returned by DefaultRules. Bump it
// whenever a rule is added, removed, reordered or its pattern changes so that
// cached results produced by an older ruleset are not reused.
const RulesetVersion = 4

// Stage groups rules that run together. Stages always run in ascending order.
type Stage int

const (
	StageStructural Stage = iota + 1
	StageInline
	StageWhitespace
)

func (s Stage) String() string {
	switch s {
	case StageStructural:
		return "structural"
	case StageInline:
		return "inline"
	case StageWhitespace:
		return "whitespace"
	default:
		return "unknown"
	}
}

// Action is what a rule does with a match.
type Action int

const (
	// DropLine removes every line the pattern matches, including its line break.
	DropLine Action = iota
	// Replace substitutes every match in the text with the rule's Replacement.
	Replace
)

// Rule is one (matcher, action) pair of the cleaning pipeline.
type Rule struct {
	Name        string
	Stage       Stage
	Pattern     *regexp.Regexp
	Action      Action
	Replacement string
}

// Apply runs the rule over text. DropLine rules are evaluated against each
// line on its own; Replace rules run over the whole text and must not match
// across line breaks unless they belong to the whitespace stage.
func (r Rule) Apply(text string) string {
	if r.Action == Replace {
		return r.Pattern.ReplaceAllString(text, r.Replacement)
	}

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if r.Pattern.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func dropLine(name, pattern string) Rule {
	return Rule{
		Name:    name,
		Stage:   StageStructural,
		Pattern: regexp.MustCompile(pattern),
		Action:  DropLine,
	}
}

func replace(stage Stage, name, pattern, replacement string) Rule {
	return Rule{
		Name:        name,
		Stage:       stage,
		Pattern:     regexp.MustCompile(pattern),
		Action:      Replace,
		Replacement: replacement,
	}
}

// DefaultRules returns a fresh copy of the ordered rule list. Later rules
// assume the earlier ones already ran.
func DefaultRules() []Rule {
	return []Rule{
		// Binding shadows and page headers read as loose capitals.
		dropLine("scattered-capitals", `^[A-Z \t]{2,10}(?:[ \t]+[A-Z]{2,4}){2,}[ \t]*$`),
		// Grid lines come back as runs of E followed by dashes.
		dropLine("repeated-e-dashes", `^E{2,}[ \t—–-]*$`),
		dropLine("caps-cluster", `^[A-Z]{1,3}[ \t]+[A-Z]{2,4}[ \t]+[A-Z]{2,4}[ \t]+[A-Z]{1,3}[ \t]*$`),
		// Binding holes read as "(o)", "(3)" and similar.
		dropLine("parenthetical-prefix", `^\([^)]*\)`),
		dropLine("symbol-run", `^[\\|/(){}\[\]0-9][\\|/(){}\[\]0-9 \t]*$`),
		dropLine("quoted-fragment-line", `^["'][A-Za-z0-9_]{1,3}[ \t]*$`),
		replace(StageStructural, "quoted-fragment-tail", `(?m)[ \t]+["'][A-Za-z0-9_]{1,3}[ \t]*$`, ""),

		replace(StageInline, "inline-numeric-marker", `[ \t]+[0-9]+\)[ \t]+`, " "),
		replace(StageInline, "inline-letter-marker", `[ \t]+[A-Za-z]\)[ \t]+`, " "),
		// A real outline marker is followed by a capital or a digit.
		replace(StageInline, "lowercase-leading-marker", `(?m)^[0-9]+\)[ \t]+([a-z])`, "${1}"),
		replace(StageInline, "isolated-digit", `[ \t]+[0-9][ \t]+([A-Z])`, " ${1}"),
		replace(StageInline, "edge-pipes", `[ \t]*\|[ \t]*`, " "),
		replace(StageInline, "stray-brackets", `[ \t]*[\[\]\\][ \t]*`, " "),
		// "a" and "I" are words; "i" is kept as the common misread of "I".
		replace(StageInline, "isolated-letter", `[ \t]+[b-hj-zB-HJ-Z][ \t]+`, " "),

		replace(StageWhitespace, "collapse-spaces", ` {2,}`, " "),
		replace(StageWhitespace, "collapse-newlines", `\n{2,}`, "\n"),
	}
}

// RuleByName returns the default rule with the given name.
func RuleByName(name string) (Rule, bool) {
	for _, r := range DefaultRules() {
		if r.Name == name {
			return r, true
		}
	}
	return Rule{}, false
}
