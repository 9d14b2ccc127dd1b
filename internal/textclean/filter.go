// Package textclean removes scanning artifacts from recognized text.
//
// Cleaning is an ordered pipeline of pattern rules (see DefaultRules)
// followed by a per-line classification pass (see Classifier). Everything in
// this package is pure and deterministic; no input makes it fail.
package textclean

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Filter applies a rule list and a line classifier to raw recognized text.
type Filter struct {
	rules      []Rule
	classifier *Classifier
}

// Option configures a Filter.
type Option func(*Filter)

// WithThresholds sets the classifier thresholds.
func WithThresholds(t Thresholds) Option {
	return func(f *Filter) {
		f.classifier = NewClassifier(t)
	}
}

// WithRules replaces the default rule list.
func WithRules(rules []Rule) Option {
	return func(f *Filter) {
		f.rules = rules
	}
}

// New creates a filter using DefaultRules and DefaultThresholds unless
// overridden by opts.
func New(opts ...Option) *Filter {
	f := &Filter{
		rules:      DefaultRules(),
		classifier: NewClassifier(DefaultThresholds()),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var defaultFilter = New()

// Clean cleans raw with the default filter.
func Clean(raw string) string {
	return defaultFilter.Clean(raw)
}

// Classifier returns the filter's line classifier.
func (f *Filter) Classifier() *Classifier {
	return f.classifier
}

// Clean returns raw with artifacts removed. It repeats the full pass until
// the text stops changing, so Clean(Clean(s)) == Clean(s).
func (f *Filter) Clean(raw string) string {
	if raw == "" {
		return ""
	}

	text := raw
	for {
		next := f.pass(prepare(text), nil)
		if next == text {
			return next
		}
		text = next
	}
}

// LineReport is the classifier outcome for one line.
type LineReport struct {
	Line    string  `json:"line"`
	Verdict Verdict `json:"verdict"`
	Reason  string  `json:"reason"`
}

// Explain reports the outcome for every line of raw. It runs the same passes
// as Clean: lines that survive are reported as Keep exactly as they appear in
// the cleaned text, and dropped lines carry the name of the rule or
// classifier check that removed them. A line kept by one pass and dropped by
// a later one is reported as dropped.
func (f *Filter) Explain(raw string) []LineReport {
	if raw == "" {
		return nil
	}

	var reports []LineReport
	index := make(map[string]int)
	record := func(line string, v Verdict, reason string) {
		if i, ok := index[line]; ok {
			reports[i].Verdict, reports[i].Reason = v, reason
			return
		}
		index[line] = len(reports)
		reports = append(reports, LineReport{Line: line, Verdict: v, Reason: reason})
	}

	text := raw
	for {
		next := f.pass(prepare(text), record)
		if next == text {
			break
		}
		text = next
	}

	// Lines a later pass rewrote are not part of the result.
	final := make(map[string]struct{})
	for _, line := range strings.Split(text, "\n") {
		final[line] = struct{}{}
	}
	kept := reports[:0]
	for _, r := range reports {
		if r.Verdict == Keep {
			if _, ok := final[r.Line]; !ok {
				continue
			}
		}
		kept = append(kept, r)
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

// reportFunc receives the verdict for one trimmed line.
type reportFunc func(line string, v Verdict, reason string)

func prepare(raw string) string {
	text := norm.NFKC.String(raw)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

func (f *Filter) pass(text string, report reportFunc) string {
	text = f.rewrite(text, report)

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, reason := f.classifier.Evaluate(line)
		if report != nil {
			report(line, v, reason)
		}
		if v == Keep {
			kept = append(kept, line)
		}
	}

	text = strings.TrimSpace(strings.Join(kept, "\n"))
	return f.applyStage(text, StageWhitespace, nil)
}

// rewrite runs the structural, inline and whitespace stages.
func (f *Filter) rewrite(text string, report reportFunc) string {
	text = f.applyStage(text, StageStructural, report)
	text = f.applyStage(text, StageInline, report)
	text = strings.TrimSpace(text)
	return f.applyStage(text, StageWhitespace, report)
}

// applyStage runs the rules of one stage. Lines removed by DropLine rules
// are passed to report, if set.
func (f *Filter) applyStage(text string, stage Stage, report reportFunc) string {
	for _, r := range f.rules {
		if r.Stage != stage {
			continue
		}
		if report != nil && r.Action == DropLine {
			for _, line := range strings.Split(text, "\n") {
				if r.Pattern.MatchString(line) {
					if l := strings.TrimSpace(line); l != "" {
						report(l, Drop, r.Name)
					}
				}
			}
		}
		text = r.Apply(text)
	}
	return text
}
