package transcript

import (
	"sort"
	"strings"

	"call_analyzer/internal/textnorm"
)

// DefaultAutoresponderPhrases mark answering machines and IVR greetings.
var DefaultAutoresponderPhrases = []string{
	"вы позвонили",
	"оставьте сообщение",
	"после сигнала",
	"автоответчик",
	"сообщение оставьте",
	"оставьте голосовое",
	"добро пожаловать",
	"вы набрали",
	"leave a message",
	"you have reached",
	"after the tone",
}

// RoleAssigner maps diarized speakers to conversation roles.
type RoleAssigner struct {
	phrases []string
}

// NewRoleAssigner uses DefaultAutoresponderPhrases when phrases is empty.
func NewRoleAssigner(phrases []string) *RoleAssigner {
	var cleaned []string
	for _, p := range phrases {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		cleaned = DefaultAutoresponderPhrases
	}
	return &RoleAssigner{phrases: cleaned}
}

// Assign returns a time-ordered copy of segs with roles set. words are the
// transcription segments scanned for autoresponder phrases; when empty the
// aligned segment texts are scanned instead.
//
// A speaker caught speaking an autoresponder phrase becomes Autoresponder on
// every segment. The remaining speakers are ranked by total talk time:
// Manager, Client, then Other(1), Other(2) and so on.
func (a *RoleAssigner) Assign(segs, words []Segment) []Segment {
	out := Sorted(segs)
	if len(out) == 0 {
		return out
	}

	auto := make(map[string]bool)
	for _, idx := range a.autoresponderSegments(out, Sorted(words)) {
		out[idx].Role = RoleAutoresponder
		auto[out[idx].Speaker] = true
	}

	totals := make(map[string]float64)
	var order []string
	for _, s := range out {
		if auto[s.Speaker] {
			continue
		}
		if _, seen := totals[s.Speaker]; !seen {
			order = append(order, s.Speaker)
		}
		totals[s.Speaker] += s.Duration()
	}
	sort.SliceStable(order, func(i, j int) bool { return totals[order[i]] > totals[order[j]] })

	roles := make(map[string]Role, len(order))
	for rank, key := range order {
		switch rank {
		case 0:
			roles[key] = RoleManager
		case 1:
			roles[key] = RoleClient
		default:
			roles[key] = Other(rank - 1)
		}
	}

	for i := range out {
		if out[i].Role == RoleAutoresponder || auto[out[i].Speaker] {
			out[i].Role = RoleAutoresponder
			continue
		}
		out[i].Role = roles[out[i].Speaker]
	}
	return out
}

// autoresponderSegments returns indexes into segs of the diarized segments
// that carried an autoresponder phrase.
func (a *RoleAssigner) autoresponderSegments(segs, words []Segment) []int {
	var hits []int
	if len(words) == 0 {
		for i, s := range segs {
			if a.matches(s.Text) {
				hits = append(hits, i)
			}
		}
		return hits
	}
	for _, w := range words {
		if !a.matches(w.Text) {
			continue
		}
		if idx := locate(segs, w); idx >= 0 {
			hits = append(hits, idx)
		}
	}
	return hits
}

func (a *RoleAssigner) matches(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	folded := textnorm.Fold(text)
	for _, p := range a.phrases {
		if strings.Contains(folded, textnorm.Fold(p)) {
			return true
		}
	}
	return false
}

// locate finds the segment overlapping span the most. A zero-length span
// falls back to the segment that contains its start.
func locate(segs []Segment, span Segment) int {
	best, bestOverlap := -1, 0.0
	for i, s := range segs {
		if ov := Overlap(span, s); ov > bestOverlap {
			best, bestOverlap = i, ov
		}
	}
	if best >= 0 {
		return best
	}
	for i, s := range segs {
		if span.Start >= s.Start && span.Start <= s.End {
			return i
		}
	}
	return -1
}
