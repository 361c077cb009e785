// Package transcript rewrites raw speech-to-text output into conventional
// written English.
//
// STT backends return text without reliable casing, punctuation spacing or
// apostrophes. The [Pipeline] applies an ordered table of [Rule] values to
// recover them: punctuation spacing first, then sentence casing, then
// standalone-token fixes (the pronoun "I", missing apostrophes, informal
// fillers), then whitespace collapsing. A terminal period is appended last
// when the text does not already end a sentence.
//
// Rules are not independent: later rules observe the output of earlier ones,
// so the order of [DefaultRules] is part of the contract.
//
// Implementations must be safe for concurrent use.
package transcript

// Correction records one rule that changed the text during a
// [Pipeline.Correct] call.
type Correction struct {
	// Rule is the [Rule.Name] that fired.
	Rule string

	// Before is the text as the rule received it.
	Before string

	// After is the text the rule produced.
	After string
}

// Result is the output of a [Pipeline.Correct] call.
type Result struct {
	// Original is the raw transcript text as received from the STT provider.
	Original string

	// Corrected is the normalised text. It is empty for empty input and
	// otherwise ends in '.', '!' or '?'.
	Corrected string

	// Corrections lists, in application order, every rule that changed the
	// text. An empty (non-nil) slice means the input was already normalised.
	Corrections []Correction
}

// Pipeline corrects raw transcripts.
//
// Implementations must be safe for concurrent use.
type Pipeline interface {
	// Correct normalises raw. Empty input returns an empty Result.Corrected
	// without applying any rule.
	Correct(raw string) Result
}
