// Package textnorm holds the caseless text primitives shared by role
// detection and conversation analysis.
package textnorm

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// Fold returns the Unicode case-folded form of s. A Caser is stateful, so a
// fresh one is built per call.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// ContainsFold reports whether needle occurs in text ignoring case.
// An empty needle never matches.
func ContainsFold(text, needle string) bool {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return false
	}
	return strings.Contains(Fold(text), Fold(needle))
}

// CountFold counts non-overlapping caseless substring occurrences.
func CountFold(text, needle string) int {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return 0
	}
	return strings.Count(Fold(text), Fold(needle))
}

// CountWord counts caseless whole-word occurrences of word in text. Word
// boundaries are Unicode aware, so Cyrillic keywords behave like Latin ones.
func CountWord(text, word string) int {
	w := Fold(strings.TrimSpace(word))
	if w == "" {
		return 0
	}
	t := Fold(text)
	n := 0
	for i := 0; i < len(t); {
		j := strings.Index(t[i:], w)
		if j < 0 {
			break
		}
		start := i + j
		end := start + len(w)
		if boundaryBefore(t, start) && boundaryAfter(t, end) {
			n++
			i = end
			continue
		}
		_, size := utf8.DecodeRuneInString(t[start:])
		i = start + size
	}
	return n
}

// Tokens replaces everything except letters, digits, underscores and
// whitespace with spaces and returns the fields longer than one rune.
func Tokens(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if IsWordRune(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, text)
	var out []string
	for _, f := range strings.Fields(cleaned) {
		if utf8.RuneCountInString(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}

// IsWordRune matches the \w class extended to every Unicode letter and digit.
func IsWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !IsWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !IsWordRune(r)
}
