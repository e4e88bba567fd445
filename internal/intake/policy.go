package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	serrors "github.com/scopedeck/scopedeck/internal/errors"
	"github.com/scopedeck/scopedeck/internal/heuristics"
	"github.com/scopedeck/scopedeck/internal/llm"
	"github.com/scopedeck/scopedeck/internal/metrics"
)

// Attempt budgets. Retries are sequential and deterministic: each retry
// appends a corrective instruction to the in-call turn accumulator, so
// ordering is a correctness requirement, not a performance choice.
const (
	nextQuestionAttempts = 3
	reviewAttempts       = 2
)

// DefaultMinQuestions is the finalization floor applied when the policy is
// constructed without an explicit threshold.
const DefaultMinQuestions = 5

// Policy is the dialogue orchestration core. All operations follow the same
// contract: compute on a clone of the DialogueState and swap it in only on
// success, so exhausted retries leave the persisted state byte-identical.
type Policy struct {
	completer    llm.Completer
	gate         *heuristics.Gate
	minQuestions int
	basePrompt   string
	framings     map[IntentTag]string
	logger       zerolog.Logger
	metrics      *metrics.Metrics
}

// PolicyOption configures the policy.
type PolicyOption func(*Policy)

// WithMinQuestions sets the finalization floor: a sufficient verdict from
// the model is only accepted once this many questions have been asked.
func WithMinQuestions(n int) PolicyOption {
	return func(p *Policy) { p.minQuestions = n }
}

func WithGate(g *heuristics.Gate) PolicyOption {
	return func(p *Policy) { p.gate = g }
}

func WithLogger(l zerolog.Logger) PolicyOption {
	return func(p *Policy) { p.logger = l.With().Str("component", "intake_policy").Logger() }
}

func WithMetrics(m *metrics.Metrics) PolicyOption {
	return func(p *Policy) { p.metrics = m }
}

// WithPrompts overrides the built-in system prompt and intent framings,
// typically from the prompts YAML file. Empty values keep the defaults.
func WithPrompts(basePrompt string, framings map[IntentTag]string) PolicyOption {
	return func(p *Policy) {
		if basePrompt != "" {
			p.basePrompt = basePrompt
		}
		for tag, text := range framings {
			if text != "" {
				p.framings[tag] = text
			}
		}
	}
}

// NewPolicy constructs the dialogue policy around a completion client.
func NewPolicy(completer llm.Completer, opts ...PolicyOption) *Policy {
	p := &Policy{
		completer:    completer,
		gate:         heuristics.NewGate(heuristics.DefaultConfig()),
		minQuestions: DefaultMinQuestions,
		basePrompt:   baseSystemPrompt,
		framings:     defaultFramings(),
		logger:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// MinQuestions returns the configured finalization floor.
func (p *Policy) MinQuestions() int { return p.minQuestions }

// StartResult is the fixed classification question offered on start.
type StartResult struct {
	Question string         `json:"question"`
	Options  []IntentOption `json:"options"`
}

// QuestionResult carries the next follow-up question.
type QuestionResult struct {
	Message string `json:"message"`
}

// ReviewResult is the outcome of reviewing a user answer: either another
// follow-up question or the finished summary.
type ReviewResult struct {
	NeedsMore bool            `json:"needs_more"`
	Message   string          `json:"message,omitempty"`
	Summary   *ProjectSummary `json:"summary,omitempty"`
}

// StartIntake begins a fresh cycle: it records the first user message and
// asks the fixed intent classification question. Deterministic — no LLM
// call, no cost.
func (p *Policy) StartIntake(state *DialogueState, firstUserMessage string) *StartResult {
	next := NewDialogueState()
	next.appendTurn(llm.RoleUser, firstUserMessage)
	next.appendTurn(llm.RoleAssistant, intentQuestion)
	next.State = StateAwaitingIntentChoice
	next.PendingIntentPrompt = intentQuestion
	next.PendingIntentOptions = IntentOptions()
	*state = *next

	p.logger.Info().Str("action", "start_intake").Msg("intake started")
	return &StartResult{Question: intentQuestion, Options: IntentOptions()}
}

// ResolveIntent records the chosen tag and immediately asks the first real
// follow-up question — the intent choice itself answers nothing about the
// project. The returned tag is idempotently unioned into the project record
// by the caller.
func (p *Policy) ResolveIntent(ctx context.Context, state *DialogueState, choice string, pc ProjectContext) (IntentTag, *QuestionResult, error) {
	tag, err := ParseIntentTag(choice)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", serrors.ErrInvalidInput, err)
	}
	if state.State != StateAwaitingIntentChoice {
		return "", nil, fmt.Errorf("%w: intake is not awaiting an intent choice (state %s)", serrors.ErrInvalidInput, state.State)
	}

	next := state.Clone()
	next.PendingIntentPrompt = ""
	next.PendingIntentOptions = nil
	next.appendTurn(llm.RoleUser, optionLabel(tag))

	pc.Tags = unionTags(pc.Tags, tag)
	msg, err := p.nextQuestion(ctx, next, pc)
	if err != nil {
		return "", nil, err
	}

	*state = *next
	return tag, &QuestionResult{Message: msg}, nil
}

// NextQuestion produces the next follow-up question, retrying internally up
// to its attempt budget on transport failures and invalid candidates.
func (p *Policy) NextQuestion(ctx context.Context, state *DialogueState, pc ProjectContext) (*QuestionResult, error) {
	next := state.Clone()
	msg, err := p.nextQuestion(ctx, next, pc)
	if err != nil {
		return nil, err
	}
	*state = *next
	return &QuestionResult{Message: msg}, nil
}

// ReviewAnswer appends the user's answer and asks the model, in one
// combined instruction, to either judge it insufficient (follow-up) or
// sufficient (five-field summary). An insufficient verdict carrying an
// invalid message self-heals by substituting a freshly generated question.
// A sufficient verdict below the finalization floor is never accepted;
// another follow-up is forced instead.
func (p *Policy) ReviewAnswer(ctx context.Context, state *DialogueState, answer string, pc ProjectContext) (*ReviewResult, error) {
	if state.State != StateAskingFollowUp {
		return nil, fmt.Errorf("%w: intake is not awaiting an answer (state %s)", serrors.ErrInvalidInput, state.State)
	}

	next := state.Clone()
	next.appendTurn(llm.RoleUser, answer)

	turns := p.buildTurns(next, pc, reviewInstruction)
	for attempt := 1; attempt <= reviewAttempts; attempt++ {
		raw, err := p.complete(ctx, "review_answer", attempt, turns)
		if err != nil {
			if errors.Is(err, serrors.ErrConfiguration) {
				return nil, err
			}
			turns = append(turns, llm.Turn{Role: llm.RoleSystem, Content: retryTransportInstruction})
			continue
		}

		obj := llm.DecodeJSONObject(llm.ExtractContent(raw))
		if obj == nil {
			turns = append(turns, llm.Turn{Role: llm.RoleSystem, Content: retryDecodeInstruction})
			continue
		}
		needsMore, ok := obj["needs_more"].(bool)
		if !ok {
			turns = append(turns, llm.Turn{Role: llm.RoleSystem, Content: retryDecodeInstruction})
			continue
		}

		if !needsMore {
			summary := parseSummary(obj["summary"])
			if summary.Empty() {
				// a sufficient verdict without a summary is a malformed
				// success, not a real completion
				turns = append(turns, llm.Turn{Role: llm.RoleSystem, Content: retryDecodeInstruction})
				continue
			}
			if next.QuestionsAsked < p.minQuestions {
				// hard floor: never finalize below the threshold,
				// regardless of the model's judgment
				msg, qerr := p.nextQuestion(ctx, next, pc)
				if qerr != nil {
					return nil, qerr
				}
				*state = *next
				return &ReviewResult{NeedsMore: true, Message: msg}, nil
			}
			next.State = StateCompleted
			*state = *next
			p.logger.Info().Str("action", "review_answer").Int("questions_asked", next.QuestionsAsked).Msg("intake completed")
			return &ReviewResult{NeedsMore: false, Summary: summary}, nil
		}

		msg, _ := obj["message"].(string)
		msg = strings.TrimSpace(msg)
		if p.gate.IsInvalid(msg, next.History) {
			// self-healing substitution rather than failing outright
			p.rejectCandidate("review_answer")
			sub, qerr := p.nextQuestion(ctx, next, pc)
			if qerr != nil {
				return nil, qerr
			}
			*state = *next
			return &ReviewResult{NeedsMore: true, Message: sub}, nil
		}

		next.appendTurn(llm.RoleAssistant, msg)
		next.QuestionsAsked++
		next.State = StateAskingFollowUp
		*state = *next
		return &ReviewResult{NeedsMore: true, Message: msg}, nil
	}

	return nil, serrors.ErrInvalidMessage
}

// SummarizeNow forces completion: the model must fill every summary field,
// with explicit placeholders for unknowns. Any non-empty summary object is
// accepted, without the needs_more discriminator and without the floor.
func (p *Policy) SummarizeNow(ctx context.Context, state *DialogueState, pc ProjectContext) (*ProjectSummary, error) {
	if len(state.History) == 0 || state.State == StateAwaitingFirstMessage {
		return nil, fmt.Errorf("%w: intake has no conversation to summarize", serrors.ErrInvalidInput)
	}

	next := state.Clone()
	turns := p.buildTurns(next, pc, forceSummaryInstruction)
	for attempt := 1; attempt <= reviewAttempts; attempt++ {
		raw, err := p.complete(ctx, "summarize_now", attempt, turns)
		if err != nil {
			if errors.Is(err, serrors.ErrConfiguration) {
				return nil, err
			}
			turns = append(turns, llm.Turn{Role: llm.RoleSystem, Content: retryTransportInstruction})
			continue
		}

		obj := llm.DecodeJSONObject(llm.ExtractContent(raw))
		if obj == nil {
			turns = append(turns, llm.Turn{Role: llm.RoleSystem, Content: retryDecodeInstruction})
			continue
		}
		summary := parseSummary(obj["summary"])
		if summary.Empty() {
			turns = append(turns, llm.Turn{Role: llm.RoleSystem, Content: retryDecodeInstruction})
			continue
		}

		next.State = StateCompleted
		*state = *next
		p.logger.Info().Str("action", "summarize_now").Msg("intake force-finalized")
		return summary, nil
	}

	return nil, serrors.ErrInvalidMessage
}

// nextQuestion is the shared question loop. It mutates st only on success:
// appends the assistant turn, increments the counter, and moves the state
// machine to AskingFollowUp.
func (p *Policy) nextQuestion(ctx context.Context, st *DialogueState, pc ProjectContext) (string, error) {
	recent := p.gate.RecentAssistantMessages(st.History)
	turns := p.buildTurns(st, pc, nextQuestionInstruction(recent))

	for attempt := 1; attempt <= nextQuestionAttempts; attempt++ {
		raw, err := p.complete(ctx, "next_question", attempt, turns)
		if err != nil {
			if errors.Is(err, serrors.ErrConfiguration) {
				return "", err
			}
			turns = append(turns, llm.Turn{Role: llm.RoleSystem, Content: retryTransportInstruction})
			continue
		}

		msg := llm.ExtractMessage(raw)
		if msg == "" {
			turns = append(turns, llm.Turn{Role: llm.RoleSystem, Content: retryDecodeInstruction})
			continue
		}
		if p.gate.IsInvalid(msg, st.History) {
			p.rejectCandidate("next_question")
			turns = append(turns, llm.Turn{Role: llm.RoleSystem, Content: retryInvalidInstruction})
			continue
		}

		st.appendTurn(llm.RoleAssistant, msg)
		st.QuestionsAsked++
		st.State = StateAskingFollowUp
		return msg, nil
	}

	return "", serrors.ErrInvalidMessage
}

// buildTurns assembles the per-call prompt accumulator: system prompt,
// persisted history, then the operation instruction. Corrective retry
// instructions are appended to this slice only, never to the history.
func (p *Policy) buildTurns(st *DialogueState, pc ProjectContext, instruction string) []llm.Turn {
	turns := make([]llm.Turn, 0, len(st.History)+2)
	turns = append(turns, llm.Turn{Role: llm.RoleSystem, Content: p.systemPrompt(pc)})
	turns = append(turns, st.History...)
	turns = append(turns, llm.Turn{Role: llm.RoleSystem, Content: instruction})
	return turns
}

// complete performs one bounded LLM exchange and emits the best-effort
// diagnostics entry. Failures to log never fail the operation.
func (p *Policy) complete(ctx context.Context, action string, attempt int, turns []llm.Turn) (*llm.RawResponse, error) {
	raw, err := p.completer.Complete(ctx, turns)

	evt := p.logger.Debug().
		Str("action", action).
		Int("attempt", attempt).
		Int("prompt_turns", len(turns))
	if err != nil {
		evt.Err(err).Msg("llm exchange failed")
	} else {
		evt.Int("shape", int(raw.Shape)).Msg("llm exchange ok")
	}

	if p.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		p.metrics.RecordLLMCall(action, outcome)
		if attempt > 1 {
			p.metrics.RecordLLMRetry(action)
		}
	}
	return raw, err
}

func (p *Policy) rejectCandidate(action string) {
	if p.metrics != nil {
		p.metrics.RecordRejectedCandidate(action)
	}
}

// parseSummary converts the decoded summary value into a typed struct.
// Non-object or absent values yield an empty summary.
func parseSummary(v any) *ProjectSummary {
	obj, ok := v.(map[string]any)
	if !ok {
		return &ProjectSummary{}
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return &ProjectSummary{}
	}
	var s ProjectSummary
	if err := json.Unmarshal(b, &s); err != nil {
		return &ProjectSummary{}
	}
	return &s
}

func optionLabel(tag IntentTag) string {
	for _, opt := range intentOptions {
		if opt.Value == tag {
			return opt.Label
		}
	}
	return string(tag)
}

// unionTags adds tag to the set if absent. Idempotent.
func unionTags(tags []IntentTag, tag IntentTag) []IntentTag {
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	return append(tags, tag)
}
