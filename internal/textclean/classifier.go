package textclean

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Verdict is the keep/drop decision for one line.
type Verdict int

const (
	Keep Verdict = iota
	Drop
)

func (v Verdict) String() string {
	if v == Drop {
		return "drop"
	}
	return "keep"
}

// MarshalText lets verdicts appear as "keep"/"drop" in JSON responses.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Verdict) UnmarshalText(text []byte) error {
	switch string(text) {
	case "keep":
		*v = Keep
	case "drop":
		*v = Drop
	default:
		return fmt.Errorf("unknown verdict %q", text)
	}
	return nil
}

// Reasons reported by Classifier.Evaluate.
const (
	ReasonShortWordFlood = "short-word-flood"
	ReasonLigature       = "ligature-pattern"
	ReasonAlphaDensity   = "alpha-density"
	ReasonShortAverage   = "short-average"
	ReasonProse          = "prose"
)

// Thresholds holds the tunable constants of the line classifier. The default
// values were chosen empirically and have not been calibrated against a
// labelled corpus.
type Thresholds struct {
	// ShortWordMaxLen is the longest token, in runes, counted as a short word.
	ShortWordMaxLen int
	// MinWordsForFlood is the word count from which the short-word rule applies.
	MinWordsForFlood int
	// ShortWordRatio drops a line whose short-word fraction exceeds it.
	ShortWordRatio float64
	// AlphaRatio drops a line whose letter fraction is at or below it.
	AlphaRatio float64
	// MinWordsForAverage is the word count from which the average rule applies.
	MinWordsForAverage int
	// MinAvgWordLength drops a line whose mean word length is below it.
	MinAvgWordLength float64
	// Words are tokens that are complete words despite being short. They
	// count neither as short words nor towards the average word length.
	Words []string
}

// DefaultThresholds returns the stock classifier settings.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ShortWordMaxLen:    2,
		MinWordsForFlood:   4,
		ShortWordRatio:     0.6,
		AlphaRatio:         0.5,
		MinWordsForAverage: 3,
		MinAvgWordLength:   2.5,
		Words:              []string{"I", "a", "A"},
	}
}

var (
	threeShortRuns = regexp.MustCompile(`^[^A-Za-z]*[A-Za-z]{1,2}[^A-Za-z]+[A-Za-z]{1,2}[^A-Za-z]+[A-Za-z]{1,2}[^A-Za-z]*$`)
	capsBySlashes  = regexp.MustCompile(`^[A-Z]{1,4}(?:[ \t]*[/|][ \t]*[A-Z]{1,4})+$`)
	ligatureToken  = regexp.MustCompile(`^[fil1I|!h]{1,2}$`)
)

// ligatureRunLen is how many ligature-like tokens in a row mark a line as noise.
const ligatureRunLen = 3

// Classifier decides whether a normalized line is content or noise. It is
// safe for concurrent use.
type Classifier struct {
	t     Thresholds
	words map[string]struct{}
}

// NewClassifier builds a classifier from t, which should start from
// DefaultThresholds. Zero counts and a nil Words list take their defaults;
// the ratios and MinAvgWordLength are used as given, so zero is a valid
// setting for them.
func NewClassifier(t Thresholds) *Classifier {
	d := DefaultThresholds()
	if t.ShortWordMaxLen <= 0 {
		t.ShortWordMaxLen = d.ShortWordMaxLen
	}
	if t.MinWordsForFlood <= 0 {
		t.MinWordsForFlood = d.MinWordsForFlood
	}
	if t.MinWordsForAverage <= 0 {
		t.MinWordsForAverage = d.MinWordsForAverage
	}
	if t.Words == nil {
		t.Words = d.Words
	}

	words := make(map[string]struct{}, len(t.Words))
	for _, w := range t.Words {
		words[w] = struct{}{}
	}
	return &Classifier{t: t, words: words}
}

// Thresholds returns the effective settings.
func (c *Classifier) Thresholds() Thresholds {
	return c.t
}

// Classify returns the verdict for line.
func (c *Classifier) Classify(line string) Verdict {
	v, _ := c.Evaluate(line)
	return v
}

// Evaluate returns the verdict for line and the name of the rule that decided it.
func (c *Classifier) Evaluate(line string) (Verdict, string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Drop, ReasonAlphaDensity
	}

	words := strings.Fields(line)
	wordCount := len(words)

	short, measured, measuredLen := 0, 0, 0
	for _, w := range words {
		if _, ok := c.words[w]; ok {
			continue
		}
		n := utf8.RuneCountInString(w)
		if n <= c.t.ShortWordMaxLen {
			short++
		}
		measured++
		measuredLen += n
	}

	if wordCount >= c.t.MinWordsForFlood && float64(short)/float64(wordCount) > c.t.ShortWordRatio {
		return Drop, ReasonShortWordFlood
	}

	if isLigatureNoise(line, words) {
		return Drop, ReasonLigature
	}

	letters, total := 0, 0
	for _, r := range line {
		total++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if float64(letters)/float64(total) <= c.t.AlphaRatio {
		return Drop, ReasonAlphaDensity
	}

	if wordCount >= c.t.MinWordsForAverage && measured > 0 &&
		float64(measuredLen)/float64(measured) < c.t.MinAvgWordLength {
		return Drop, ReasonShortAverage
	}

	return Keep, ReasonProse
}

func isLigatureNoise(line string, words []string) bool {
	if threeShortRuns.MatchString(line) || capsBySlashes.MatchString(line) {
		return true
	}

	run := 0
	for _, w := range words {
		if !ligatureToken.MatchString(w) {
			run = 0
			continue
		}
		run++
		if run >= ligatureRunLen {
			return true
		}
	}
	return false
}
