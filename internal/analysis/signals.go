package analysis

import (
	"call_analyzer/internal/scripts"
	"call_analyzer/internal/textnorm"
	"call_analyzer/internal/transcript"
)

// ScriptMatch records which phrases of a script were heard.
type ScriptMatch struct {
	Found  []string `json:"found"`
	Missed []string `json:"missed"`
	Score  float64  `json:"score"`
}

// MatchScript checks every phrase of s against text ignoring case.
func MatchScript(text string, s scripts.Script) ScriptMatch {
	m := ScriptMatch{Found: []string{}, Missed: []string{}}
	for _, p := range s.Phrases {
		if textnorm.ContainsFold(text, p) {
			m.Found = append(m.Found, p)
		} else {
			m.Missed = append(m.Missed, p)
		}
	}
	total := len(s.Phrases)
	if total < 1 {
		total = 1
	}
	m.Score = float64(len(m.Found)) / float64(total)
	return m
}

// BestScript scores every candidate and returns the index of the winner,
// or -1 when there are no candidates. A later script must score strictly
// higher to displace an earlier one, and scripts without phrases only win
// when nothing else can.
func BestScript(text string, candidates []scripts.Script) (int, ScriptMatch) {
	best := -1
	var bestMatch ScriptMatch
	for i, s := range candidates {
		if len(s.Phrases) == 0 {
			continue
		}
		m := MatchScript(text, s)
		if best < 0 || m.Score > bestMatch.Score {
			best, bestMatch = i, m
		}
	}
	if best < 0 && len(candidates) > 0 {
		return 0, MatchScript(text, candidates[0])
	}
	return best, bestMatch
}

// Interests counts whole-word keyword occurrences, omitting zero counts.
func Interests(text string, keywords []string) map[string]int {
	out := make(map[string]int)
	for _, k := range keywords {
		if n := textnorm.CountWord(text, k); n > 0 {
			out[k] = n
		}
	}
	return out
}

// Politeness returns the raw count of polite expressions and the saturating
// score min(count*20, 100).
func Politeness(text string, words []string) (int, int) {
	count := 0
	for _, w := range words {
		count += textnorm.CountFold(text, w)
	}
	return count, min(count*20, 100)
}

// Promises returns the promise phrases present in text, in list order.
func Promises(text string, phrases []string) []string {
	out := []string{}
	for _, p := range phrases {
		if textnorm.ContainsFold(text, p) {
			out = append(out, p)
		}
	}
	return out
}

// IsInformative reports whether text holds at least minWords tokens longer
// than one character.
func IsInformative(text string, minWords int) bool {
	tokens := textnorm.Tokens(text)
	return len(tokens) > 0 && len(tokens) >= minWords
}

// RoleSeconds sums segment durations per role.
func RoleSeconds(segs []transcript.Segment) map[transcript.Role]float64 {
	out := make(map[transcript.Role]float64)
	for _, s := range segs {
		out[s.Role] += s.Duration()
	}
	return out
}
