// Package heuristics gates candidate assistant messages before they reach
// the user: near-duplicates of recent assistant turns and echoes of the
// user's own words are rejected so the dialogue policy can retry.
package heuristics

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"

	"github.com/scopedeck/scopedeck/internal/llm"
)

// Config holds the comparison thresholds. Exposed so tests can probe
// boundaries precisely instead of relying on magic numbers.
type Config struct {
	// RepeatSimilarity is the fuzzy score (0–100) above which a candidate
	// counts as a repeat of a recent assistant message.
	RepeatSimilarity int
	// EchoSimilarity is the fuzzy score above which a candidate counts as
	// echoing the user's last message.
	EchoSimilarity int
	// EchoMinUserLen is the normalized length below which a user message
	// is too short for echo detection to be meaningful.
	EchoMinUserLen int
	// EchoMinCandidateLen gates the fuzzy echo check on candidate length.
	EchoMinCandidateLen int
	// SubstringMinLen gates the containment check on repetition, avoiding
	// trivial short-string false positives.
	SubstringMinLen int
	// TruncateLen caps recent assistant messages before comparison.
	TruncateLen int
	// Lookback is how many recent assistant turns are compared against.
	Lookback int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		RepeatSimilarity:    88,
		EchoSimilarity:      80,
		EchoMinUserLen:      25,
		EchoMinCandidateLen: 20,
		SubstringMinLen:     12,
		TruncateLen:         160,
		Lookback:            3,
	}
}

// Gate applies the configured thresholds to candidate messages.
type Gate struct {
	cfg Config
}

// NewGate creates a Gate with the given thresholds.
func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

// Normalize lowercases text, strips everything that is not a letter, digit
// or whitespace, collapses whitespace runs, and trims. Idempotent.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Similarity returns a normalized edit-distance score from 0 (unrelated)
// to 100 (identical). Near-duplicate phrasing scores high.
func Similarity(a, b string) int {
	if a == b {
		return 100
	}
	if a == "" || b == "" {
		return 0
	}
	longest := len([]rune(a))
	if lb := len([]rune(b)); lb > longest {
		longest = lb
	}
	dist := levenshtein.ComputeDistance(a, b)
	if dist >= longest {
		return 0
	}
	return (longest - dist) * 100 / longest
}

// RecentAssistantMessages returns the last assistant-authored turns, most
// recent first, each truncated to the configured cap.
func (g *Gate) RecentAssistantMessages(history []llm.Turn) []string {
	out := make([]string, 0, g.cfg.Lookback)
	for i := len(history) - 1; i >= 0 && len(out) < g.cfg.Lookback; i-- {
		if history[i].Role != llm.RoleAssistant {
			continue
		}
		msg := history[i].Content
		if runes := []rune(msg); len(runes) > g.cfg.TruncateLen {
			msg = string(runes[:g.cfg.TruncateLen])
		}
		out = append(out, msg)
	}
	return out
}

// IsRepeated reports whether the candidate is empty or a near-duplicate of
// a recent assistant message: exact match after normalization, substring
// containment past SubstringMinLen, or fuzzy similarity past threshold.
func (g *Gate) IsRepeated(candidate string, history []llm.Turn) bool {
	cand := Normalize(candidate)
	if cand == "" {
		return true
	}
	for _, recent := range g.RecentAssistantMessages(history) {
		prev := Normalize(recent)
		if prev == "" {
			continue
		}
		if cand == prev {
			return true
		}
		if len([]rune(cand)) > g.cfg.SubstringMinLen && len([]rune(prev)) > g.cfg.SubstringMinLen {
			if strings.Contains(cand, prev) || strings.Contains(prev, cand) {
				return true
			}
		}
		if Similarity(cand, prev) > g.cfg.RepeatSimilarity {
			return true
		}
	}
	return false
}

// IsEchoingUser reports whether the candidate substantially repeats the
// most recent user turn back at them. Short user messages never flag.
func (g *Gate) IsEchoingUser(candidate string, history []llm.Turn) bool {
	var lastUser string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == llm.RoleUser {
			lastUser = history[i].Content
			break
		}
	}

	user := Normalize(lastUser)
	if len([]rune(user)) < g.cfg.EchoMinUserLen {
		return false
	}

	cand := Normalize(candidate)
	if strings.Contains(cand, user) {
		return true
	}
	if len([]rune(cand)) > g.cfg.EchoMinCandidateLen && Similarity(cand, user) > g.cfg.EchoSimilarity {
		return true
	}
	return false
}

// IsInvalid is the single gate the dialogue policy consults before
// accepting a candidate: empty, repeated, or echoing all trigger a retry.
func (g *Gate) IsInvalid(candidate string, history []llm.Turn) bool {
	if strings.TrimSpace(candidate) == "" {
		return true
	}
	return g.IsRepeated(candidate, history) || g.IsEchoingUser(candidate, history)
}
