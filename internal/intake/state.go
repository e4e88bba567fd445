// Package intake implements the conversational intake engine: a dialogue
// policy that walks a user from a free-text project idea to a structured
// five-field summary, with bounded retries against the completion endpoint
// and heuristic rejection of repeated or echoing assistant messages.
package intake

import (
	"fmt"

	"github.com/scopedeck/scopedeck/internal/llm"
)

// State is the explicit intake state machine. Illegal combinations (intent
// pending while completed, and so on) are unrepresentable because the state
// is a single enum rather than a pile of nullable fields.
type State string

const (
	StateAwaitingFirstMessage State = "awaiting_first_message"
	StateAwaitingIntentChoice State = "awaiting_intent_choice"
	StateAskingFollowUp       State = "asking_follow_up"
	StateSummarizing          State = "summarizing"
	StateCompleted            State = "completed"
)

// IntentTag is the coarse project classification chosen in the first turn.
// It frames every subsequent system prompt.
type IntentTag string

const (
	IntentBusiness         IntentTag = "business"
	IntentStudy            IntentTag = "study"
	IntentStandardSoftware IntentTag = "standard_software"
)

// ParseIntentTag validates a user-submitted intent choice.
func ParseIntentTag(s string) (IntentTag, error) {
	switch IntentTag(s) {
	case IntentBusiness, IntentStudy, IntentStandardSoftware:
		return IntentTag(s), nil
	}
	return "", fmt.Errorf("unknown intent choice %q", s)
}

// IntentOption is one of the three fixed choices offered on intake start.
type IntentOption struct {
	Value IntentTag `json:"value"`
	Label string    `json:"label"`
}

// DialogueState is the per-project conversation record. It is exclusively
// mutated by the Policy; callers persist it through the session store and
// must serialize calls per project.
type DialogueState struct {
	State                State          `json:"state"`
	QuestionsAsked       int            `json:"questions_asked"`
	History              []llm.Turn     `json:"history"`
	PendingIntentPrompt  string         `json:"pending_intent_prompt,omitempty"`
	PendingIntentOptions []IntentOption `json:"pending_intent_options,omitempty"`
}

// NewDialogueState returns a fresh session awaiting its first message.
func NewDialogueState() *DialogueState {
	return &DialogueState{State: StateAwaitingFirstMessage}
}

// Clone returns a deep copy. The policy computes on a clone and swaps it in
// only on success, so a failed call leaves the persisted state untouched.
func (s *DialogueState) Clone() *DialogueState {
	c := *s
	c.History = make([]llm.Turn, len(s.History))
	copy(c.History, s.History)
	c.PendingIntentOptions = make([]IntentOption, len(s.PendingIntentOptions))
	copy(c.PendingIntentOptions, s.PendingIntentOptions)
	return &c
}

// appendTurn grows the append-only history.
func (s *DialogueState) appendTurn(role, content string) {
	s.History = append(s.History, llm.Turn{Role: role, Content: content})
}

// ProjectSummary is the structured result of a completed intake. Fields
// present in the result overwrite the project record; absent fields are
// left alone.
type ProjectSummary struct {
	Overview    string `json:"overview,omitempty"`
	Purpose     string `json:"purpose,omitempty"`
	Scope       string `json:"scope,omitempty"`
	TargetUsers string `json:"target_users,omitempty"`
	NFRSummary  string `json:"nfr_summary,omitempty"`
}

// Empty reports whether no field carries content.
func (ps *ProjectSummary) Empty() bool {
	return ps == nil ||
		(ps.Overview == "" && ps.Purpose == "" && ps.Scope == "" &&
			ps.TargetUsers == "" && ps.NFRSummary == "")
}

// ProjectContext is the slice of the project record the policy reads when
// building prompts. The project store owns the full record.
type ProjectContext struct {
	Name        string
	Description string
	Tags        []IntentTag
}

// ActiveIntent returns the framing tag. Storage allows a set but at most
// one of the three tags is meaningfully active; the first wins.
func (pc ProjectContext) ActiveIntent() IntentTag {
	if len(pc.Tags) == 0 {
		return ""
	}
	return pc.Tags[0]
}
