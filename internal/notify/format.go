// Package notify renders call reports and delivers them.
package notify

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"call_analyzer/internal/analysis"
	"call_analyzer/internal/transcript"
)

// FormatComment renders the report as the line-oriented CRM comment.
func FormatComment(r *analysis.Report) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("Automatic call analysis")
	line("Call type: %s", r.CallType)
	line("Duration: %s", FormatDuration(r.DurationSeconds))
	if r.BestScriptName != "" {
		line("Script %q: %d%% (%d/%d phrases)", r.BestScriptName, percent(r.ScriptMatch.Score),
			len(r.ScriptMatch.Found), len(r.ScriptMatch.Found)+len(r.ScriptMatch.Missed))
	} else {
		line("Script: not configured")
	}
	line("Politeness: %d%%", r.PolitenessScore)
	if len(r.Promises) > 0 {
		line("Promises: %s", strings.Join(r.Promises, ", "))
	}
	if roles := sortedRoles(r.PerRoleSeconds); len(roles) > 0 {
		line("Time by role:")
		for _, role := range roles {
			line("%s: %d s", roleLabel(role), int(r.PerRoleSeconds[role]))
		}
	}
	line("Client interests: %s", FormatInterests(r.Interests))
	line("Informative: %s", yesNo(r.Informative))
	if len(r.ScriptMatch.Missed) > 0 {
		line("Missed phrases: %s", strings.Join(r.ScriptMatch.Missed, ", "))
	}
	line("Dialogue:")
	for _, l := range r.Transcript {
		line("%s", dialogueLine(l))
	}
	b.WriteString("Call ID: " + r.CallID)
	return b.String()
}

// FormatSummary renders the plain-text summary written next to transcripts.
func FormatSummary(r *analysis.Report, now time.Time) string {
	var lines []string
	lines = append(lines, "Report date: "+now.Format("2006-01-02 15:04:05"))
	lines = append(lines, fmt.Sprintf("Total duration: %d s", int(math.Round(r.DurationSeconds))))
	lines = append(lines, "Time by role:")
	for _, role := range sortedRoles(r.PerRoleSeconds) {
		lines = append(lines, fmt.Sprintf("%s: %.1f s", roleLabel(role), r.PerRoleSeconds[role]))
	}
	lines = append(lines, "Found phrases: "+orDash(r.ScriptMatch.Found))
	lines = append(lines, "Missed phrases: "+orDash(r.ScriptMatch.Missed))
	interests := FormatInterests(r.Interests)
	if len(r.Interests) == 0 {
		interests = "-"
	}
	lines = append(lines, "Client interests: "+interests)

	var parts []string
	for _, l := range r.Transcript {
		parts = append(parts, l.Text)
	}
	if snippet := Snippet(strings.Join(parts, " "), 400); snippet != "" {
		lines = append(lines, "", "Conversation excerpt:", snippet)
	}
	return strings.Join(lines, "\n")
}

// FormatTranscript renders one "Role: text" line per utterance.
func FormatTranscript(r *analysis.Report) string {
	lines := make([]string, 0, len(r.Transcript))
	for _, l := range r.Transcript {
		lines = append(lines, dialogueLine(l))
	}
	return strings.Join(lines, "\n")
}

// FormatDuration renders seconds as "Mm SSs".
func FormatDuration(seconds float64) string {
	total := int(math.Round(math.Max(seconds, 0)))
	return fmt.Sprintf("%dm %02ds", total/60, total%60)
}

// FormatInterests renders "keyword(count)" pairs, most frequent first.
func FormatInterests(interests map[string]int) string {
	if len(interests) == 0 {
		return "none detected"
	}
	keys := make([]string, 0, len(interests))
	for k := range interests {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if interests[keys[i]] != interests[keys[j]] {
			return interests[keys[i]] > interests[keys[j]]
		}
		return keys[i] < keys[j]
	})
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s(%d)", k, interests[k])
	}
	return strings.Join(parts, ", ")
}

// Snippet collapses whitespace and cuts text to at most limit runes.
func Snippet(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return strings.TrimRight(string(runes[:limit-3]), " ") + "..."
}

func dialogueLine(l analysis.Line) string {
	if l.Role == "" {
		return l.Text
	}
	return string(l.Role) + ": " + l.Text
}

func sortedRoles(m map[transcript.Role]float64) []transcript.Role {
	roles := make([]transcript.Role, 0, len(m))
	for r := range m {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool {
		if m[roles[i]] != m[roles[j]] {
			return m[roles[i]] > m[roles[j]]
		}
		return roles[i] < roles[j]
	})
	return roles
}

func roleLabel(r transcript.Role) string {
	if r == "" {
		return "Speaker"
	}
	return string(r)
}

func percent(score float64) int { return int(math.Round(score * 100)) }

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
