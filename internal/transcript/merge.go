package transcript

import "strings"

// MergeGap is the largest pause between two same-role segments that still
// reads as one utterance.
const MergeGap = 1.0

// MergeByRole collapses consecutive segments of the same role separated by
// at most maxGap seconds. Segments without text are skipped.
func MergeByRole(segs []Segment, maxGap float64) []Segment {
	var merged []Segment
	for _, s := range Sorted(segs) {
		text := strings.Join(strings.Fields(s.Text), " ")
		if text == "" {
			continue
		}
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			if last.Role == s.Role && s.Start-last.End <= maxGap {
				last.Text += " " + text
				if s.End > last.End {
					last.End = s.End
				}
				continue
			}
		}
		s.Text = text
		merged = append(merged, s)
	}
	return merged
}
