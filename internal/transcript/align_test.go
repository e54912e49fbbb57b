package transcript

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignAssignsByOverlap(t *testing.T) {
	diar := []Segment{{Start: 0, End: 5, Speaker: "A"}, {Start: 5, End: 10, Speaker: "B"}}
	words := []Segment{{Start: 1, End: 2, Text: "hello"}, {Start: 6, End: 7, Text: "world"}}

	out := Align(diar, words, 10)
	require.Len(t, out, 2)
	assert.Equal(t, "A", out[0].Speaker)
	assert.Equal(t, "hello", out[0].Text)
	assert.Equal(t, "B", out[1].Speaker)
	assert.Equal(t, "world", out[1].Text)
}

func TestAlignJoinsAndPicksLargestOverlap(t *testing.T) {
	diar := []Segment{{Start: 0, End: 4, Speaker: "A"}, {Start: 4, End: 10, Speaker: "B"}}
	words := []Segment{
		{Start: 0, End: 1, Text: "good"},
		{Start: 1, End: 2, Text: "morning"},
		{Start: 3, End: 7, Text: "mostly-b"},
	}
	out := Align(diar, words, 0)
	assert.Equal(t, "good morning", out[0].Text)
	assert.Equal(t, "mostly-b", out[1].Text)
}

func TestAlignTieKeepsFirstDiarizedSegment(t *testing.T) {
	diar := []Segment{{Start: 0, End: 5, Speaker: "A"}, {Start: 5, End: 10, Speaker: "B"}}
	words := []Segment{{Start: 4, End: 6, Text: "split"}}
	out := Align(diar, words, 10)
	assert.Equal(t, "split", out[0].Text)
	assert.Empty(t, out[1].Text)
}

func TestAlignTieFollowsDiarizerOrder(t *testing.T) {
	// Listed out of time order: B comes first, so it wins the tie.
	diar := []Segment{{Start: 5, End: 10, Speaker: "B"}, {Start: 0, End: 5, Speaker: "A"}}
	words := []Segment{{Start: 4, End: 6, Text: "split"}}
	out := Align(diar, words, 10)
	require.Len(t, out, 2)
	assert.Equal(t, "A", out[0].Speaker)
	assert.Empty(t, out[0].Text)
	assert.Equal(t, "B", out[1].Speaker)
	assert.Equal(t, "split", out[1].Text)
}

func TestAlignDropsNonOverlappingText(t *testing.T) {
	diar := []Segment{{Start: 0, End: 5, Speaker: "A"}, {Start: 5, End: 10, Speaker: "B"}}
	words := []Segment{{Start: 1, End: 2, Text: "kept"}, {Start: 20, End: 21, Text: "lost"}}
	out := Align(diar, words, 0)
	assert.Equal(t, "kept", out[0].Text)
	assert.Empty(t, out[1].Text)
}

func TestAlignWithoutDiarization(t *testing.T) {
	words := []Segment{{Start: 3, End: 4, Text: "world"}, {Start: 1, End: 2, Text: "hello"}}
	out := Align(nil, words, 12)
	require.Len(t, out, 1)
	assert.Equal(t, UnknownSpeaker, out[0].Speaker)
	assert.Equal(t, "hello world", out[0].Text)
	assert.Equal(t, 0.0, out[0].Start)
	assert.Equal(t, 12.0, out[0].End)

	out = Align(nil, words, 0)
	assert.Equal(t, 4.0, out[0].End)
}

func TestAlignRedistributesWhenNothingOverlaps(t *testing.T) {
	diar := []Segment{{Start: 0, End: 3, Speaker: "A"}, {Start: 3, End: 4, Speaker: "B"}}
	words := []Segment{{Start: 50, End: 51, Text: "one two three four five six seven eight"}}

	out := Align(diar, words, 0)
	require.Len(t, out, 2)
	assert.Equal(t, "one two three four five six", out[0].Text)
	assert.Equal(t, "seven eight", out[1].Text)
}

func TestRedistributeKeepsEveryWord(t *testing.T) {
	segs := []Segment{{Start: 0, End: 1}, {Start: 1, End: 2}, {Start: 2, End: 3}}
	text := "a b c d e f g"
	Redistribute(segs, text)

	var joined []string
	for _, s := range segs {
		if s.Text != "" {
			joined = append(joined, s.Text)
		}
	}
	assert.Equal(t, text, strings.Join(joined, " "))
	assert.Equal(t, "a b", segs[0].Text)
	assert.Equal(t, "c d", segs[1].Text)
	assert.Equal(t, "e f g", segs[2].Text)
}

func TestRedistributeZeroDuration(t *testing.T) {
	segs := []Segment{{}, {}}
	Redistribute(segs, "x y z w")
	assert.Equal(t, "x y", segs[0].Text)
	assert.Equal(t, "z w", segs[1].Text)
}
