// Package analysis turns a role-labelled transcript into a call report.
package analysis

import (
	"call_analyzer/internal/scripts"
	"call_analyzer/internal/transcript"
)

var (
	DefaultKeywords = []string{"цена", "срок", "доставка", "гарантия", "купить", "стоимость", "скидка"}

	DefaultPolitenessWords = []string{
		"здравствуйте", "добрый день", "спасибо", "пожалуйста", "извините", "будьте добры", "всего доброго",
		"thank you", "please",
	}

	DefaultPromisePhrases = []string{
		"перезвоню", "отправлю", "пришлю", "вышлю", "уточню и сообщу", "свяжусь с вами",
		"i will call you back", "i will send",
	}
)

// DefaultMinInformativeWords is the token count from which a call counts as informative.
const DefaultMinInformativeWords = 6

// Options tunes the word lists. Empty lists fall back to the defaults.
type Options struct {
	Keywords            []string
	PolitenessWords     []string
	PromisePhrases      []string
	MinInformativeWords int
}

// Line is one utterance of the rendered dialogue.
type Line struct {
	Role transcript.Role `json:"role"`
	Text string          `json:"text"`
}

// Report is the outcome of analysing one call.
type Report struct {
	CallID          string                      `json:"call_id"`
	CallType        string                      `json:"call_type"`
	DurationSeconds float64                     `json:"duration_seconds"`
	BestScriptName  string                      `json:"best_script_name"`
	ScriptMatch     ScriptMatch                 `json:"script_match"`
	Interests       map[string]int              `json:"interests"`
	Informative     bool                        `json:"informative"`
	PerRoleSeconds  map[transcript.Role]float64 `json:"per_role_seconds"`
	Promises        []string                    `json:"promises"`
	PolitenessScore int                         `json:"politeness_score"`
	Transcript      []Line                      `json:"transcript"`
}

// Input is everything the analyzer needs about one call. Segments must be
// role-labelled.
type Input struct {
	CallID   string
	CallType string
	Duration float64
	Segments []transcript.Segment
	FullText string
}

// Analyzer scores calls against a script catalog.
type Analyzer struct {
	catalog *scripts.Catalog
	opts    Options
}

func New(catalog *scripts.Catalog, opts Options) *Analyzer {
	if len(opts.Keywords) == 0 {
		opts.Keywords = DefaultKeywords
	}
	if len(opts.PolitenessWords) == 0 {
		opts.PolitenessWords = DefaultPolitenessWords
	}
	if len(opts.PromisePhrases) == 0 {
		opts.PromisePhrases = DefaultPromisePhrases
	}
	if opts.MinInformativeWords <= 0 {
		opts.MinInformativeWords = DefaultMinInformativeWords
	}
	return &Analyzer{catalog: catalog, opts: opts}
}

// Analyze builds the report. It performs no I/O.
func (a *Analyzer) Analyze(in Input) *Report {
	text := in.FullText
	duration := in.Duration
	if duration <= 0 {
		duration = transcript.End(in.Segments)
	}

	r := &Report{
		CallID:          in.CallID,
		CallType:        in.CallType,
		DurationSeconds: duration,
		ScriptMatch:     ScriptMatch{Found: []string{}, Missed: []string{}},
		Interests:       Interests(text, a.opts.Keywords),
		Informative:     IsInformative(text, a.opts.MinInformativeWords),
		PerRoleSeconds:  RoleSeconds(in.Segments),
		Promises:        Promises(text, a.opts.PromisePhrases),
		Transcript:      []Line{},
	}
	_, r.PolitenessScore = Politeness(text, a.opts.PolitenessWords)

	candidates := a.catalog.Scripts()
	if idx, m := BestScript(text, candidates); idx >= 0 {
		r.BestScriptName = candidates[idx].Name
		r.ScriptMatch = m
	}

	for _, s := range transcript.MergeByRole(in.Segments, transcript.MergeGap) {
		r.Transcript = append(r.Transcript, Line{Role: s.Role, Text: s.Text})
	}
	if len(r.Transcript) == 0 && text != "" {
		r.Transcript = append(r.Transcript, Line{Text: text})
	}
	return r
}
