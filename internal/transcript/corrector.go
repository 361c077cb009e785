package transcript

import (
	"strings"
)

// Compile-time interface assertion.
var _ Pipeline = (*RulePipeline)(nil)

// PipelineOption is a functional option for configuring a [RulePipeline].
type PipelineOption func(*RulePipeline)

// WithRules replaces the rule table. The slice is copied; rules run in the
// given order.
func WithRules(rules []Rule) PipelineOption {
	return func(p *RulePipeline) {
		p.rules = append([]Rule(nil), rules...)
	}
}

// WithTerminator sets the punctuation appended when corrected text does not
// already end in '.', '!' or '?'. The default is ".".
func WithTerminator(t string) PipelineOption {
	return func(p *RulePipeline) {
		p.terminator = t
	}
}

// RulePipeline applies an ordered rule table to each transcript.
//
// A RulePipeline holds no mutable state after construction and is safe for
// concurrent use.
type RulePipeline struct {
	rules      []Rule
	terminator string
}

// NewPipeline creates a [RulePipeline] using [DefaultRules] unless
// overridden by opts.
func NewPipeline(opts ...PipelineOption) *RulePipeline {
	p := &RulePipeline{
		rules:      DefaultRules,
		terminator: ".",
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Rules returns a copy of the rule table in application order.
func (p *RulePipeline) Rules() []Rule {
	return append([]Rule(nil), p.rules...)
}

// Correct implements [Pipeline].
func (p *RulePipeline) Correct(raw string) Result {
	res := Result{Original: raw, Corrections: []Correction{}}
	if raw == "" {
		return res
	}

	text := raw
	for _, r := range p.rules {
		next := r.Apply(text)
		if next != text {
			res.Corrections = append(res.Corrections, Correction{Rule: r.Name, Before: text, After: next})
			text = next
		}
	}

	text = strings.Trim(text, asciiSpace)
	if text != "" && !endsSentence(text) {
		text += p.terminator
	}
	res.Corrected = text
	return res
}

// asciiSpace is the set matched by \s in the rule patterns.
const asciiSpace = " \t\n\f\r"

func endsSentence(s string) bool {
	switch s[len(s)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

var defaultPipeline = NewPipeline()

// Correct normalises raw with the default rule table and returns only the
// corrected text.
func Correct(raw string) string {
	return defaultPipeline.Correct(raw).Corrected
}
