// Package transcript reconciles transcription and diarization timelines and
// attributes the result to conversation roles.
package transcript

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Role is the semantic label attached to a diarized speaker.
type Role string

const (
	RoleManager       Role = "Manager"
	RoleClient        Role = "Client"
	RoleAutoresponder Role = "Autoresponder"
)

// Other returns the role for the n-th extra participant, counting from 1.
func Other(n int) Role {
	return Role(fmt.Sprintf("Other %d", n))
}

// UnknownSpeaker labels the synthetic segment produced when diarization is empty.
const UnknownSpeaker = "Unknown"

// Segment is a span of audio. Transcription yields text-bearing segments,
// diarization yields speaker-bearing ones; aligned segments carry both.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text,omitempty"`
	Speaker string  `json:"speaker,omitempty"`
	Role    Role    `json:"role,omitempty"`
}

// Duration never reports a negative length.
func (s Segment) Duration() float64 {
	if s.End <= s.Start {
		return 0
	}
	return s.End - s.Start
}

// Overlap is the length of the intersection of a and b, or 0.
func Overlap(a, b Segment) float64 {
	return math.Max(0, math.Min(a.End, b.End)-math.Max(a.Start, b.Start))
}

// Sorted returns a copy of segs ordered by start time. Equal starts keep
// their input order.
func Sorted(segs []Segment) []Segment {
	out := make([]Segment, len(segs))
	copy(out, segs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// FullText joins the non-empty segment texts in time order.
func FullText(segs []Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range Sorted(segs) {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// End returns the latest end time across segs.
func End(segs []Segment) float64 {
	var end float64
	for _, s := range segs {
		if s.End > end {
			end = s.End
		}
	}
	return end
}
