package transcript

import (
	"math"
	"strings"
)

// Align attaches transcription text to diarization segments. Each text
// segment goes to the diarized segment it overlaps most; on equal overlap the
// segment listed first in diar keeps it, and text overlapping nothing is dropped
// from the per-speaker view. duration bounds the synthetic segment used when
// diarization is empty; when zero the last transcription end is used.
func Align(diar, words []Segment, duration float64) []Segment {
	words = Sorted(words)
	full := FullText(words)
	if len(diar) == 0 {
		if duration <= 0 {
			duration = End(words)
		}
		return []Segment{{Start: 0, End: duration, Text: full, Speaker: UnknownSpeaker}}
	}

	out := make([]Segment, len(diar))
	copy(out, diar)
	texts := make([][]string, len(out))
	for _, w := range words {
		text := strings.TrimSpace(w.Text)
		if text == "" {
			continue
		}
		best, bestOverlap := -1, 0.0
		for i, d := range out {
			if ov := Overlap(w, d); ov > bestOverlap {
				best, bestOverlap = i, ov
			}
		}
		if best >= 0 {
			texts[best] = append(texts[best], text)
		}
	}
	for i := range out {
		out[i].Text = strings.Join(texts[i], " ")
	}
	out = Sorted(out)

	if full != "" && allEmpty(out) {
		Redistribute(out, full)
	}
	return out
}

// Redistribute spreads the words of text across segs in proportion to each
// segment's share of the total duration, consuming words left to right. The
// last segment takes whatever remains. Segments of zero total duration share
// the words evenly.
func Redistribute(segs []Segment, text string) {
	words := strings.Fields(text)
	if len(segs) == 0 || len(words) == 0 {
		return
	}
	var total float64
	for _, s := range segs {
		total += s.Duration()
	}
	next := 0
	for i := range segs {
		if i == len(segs)-1 {
			segs[i].Text = strings.Join(words[next:], " ")
			return
		}
		share := 1 / float64(len(segs))
		if total > 0 {
			share = segs[i].Duration() / total
		}
		n := int(math.Round(float64(len(words)) * share))
		if next+n > len(words) {
			n = len(words) - next
		}
		segs[i].Text = strings.Join(words[next:next+n], " ")
		next += n
	}
}

func allEmpty(segs []Segment) bool {
	for _, s := range segs {
		if strings.TrimSpace(s.Text) != "" {
			return false
		}
	}
	return true
}
