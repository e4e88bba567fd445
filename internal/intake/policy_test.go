package intake

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/scopedeck/scopedeck/internal/errors"
	"github.com/scopedeck/scopedeck/internal/llm"
)

// fakeCompleter replays scripted results, recording every call. The last
// result repeats once the script runs out.
type fakeCompleter struct {
	script []fakeResult
	calls  [][]llm.Turn
}

type fakeResult struct {
	content string
	err     error
}

func (f *fakeCompleter) Complete(_ context.Context, turns []llm.Turn) (*llm.RawResponse, error) {
	copied := make([]llm.Turn, len(turns))
	copy(copied, turns)
	f.calls = append(f.calls, copied)

	idx := len(f.calls) - 1
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	r := f.script[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &llm.RawResponse{
		Shape:   llm.ShapeChatCompletion,
		Choices: []llm.Choice{{Message: llm.Turn{Role: llm.RoleAssistant, Content: r.content}}},
	}, nil
}

func questionJSON(q string) string {
	b, _ := json.Marshal(map[string]string{"message": q})
	return string(b)
}

func snapshot(t *testing.T, s *DialogueState) []byte {
	t.Helper()
	b, err := json.Marshal(s)
	require.NoError(t, err)
	return b
}

func TestStartIntake_FixedQuestionNoLLMCall(t *testing.T) {
	fake := &fakeCompleter{}
	p := NewPolicy(fake)
	state := NewDialogueState()

	res := p.StartIntake(state, "quero criar um app de delivery")

	assert.Empty(t, fake.calls, "start must not call the completion endpoint")
	assert.Equal(t, intentQuestion, res.Question)
	require.Len(t, res.Options, 3)
	assert.Equal(t, IntentBusiness, res.Options[0].Value)
	assert.Equal(t, 0, state.QuestionsAsked)
	assert.Equal(t, StateAwaitingIntentChoice, state.State)
	require.Len(t, state.History, 2)
	assert.Equal(t, llm.RoleUser, state.History[0].Role)
	assert.Equal(t, "quero criar um app de delivery", state.History[0].Content)
}

func TestResolveIntent_RecordsTagAndAsksFirstQuestion(t *testing.T) {
	fake := &fakeCompleter{script: []fakeResult{
		{content: questionJSON("Quem são os clientes pagantes do seu delivery?")},
	}}
	p := NewPolicy(fake)
	state := NewDialogueState()
	p.StartIntake(state, "quero criar um app de delivery")

	tag, res, err := p.ResolveIntent(context.Background(), state, "business", ProjectContext{Name: "Delivery"})
	require.NoError(t, err)
	assert.Equal(t, IntentBusiness, tag)
	assert.Equal(t, "Quem são os clientes pagantes do seu delivery?", res.Message)
	assert.Equal(t, 1, state.QuestionsAsked)
	assert.Equal(t, StateAskingFollowUp, state.State)
	assert.Empty(t, state.PendingIntentPrompt)
	assert.Empty(t, state.PendingIntentOptions)

	// business framing injected into the system prompt
	require.NotEmpty(t, fake.calls)
	sys := fake.calls[0][0]
	assert.Equal(t, llm.RoleSystem, sys.Role)
	assert.Contains(t, sys.Content, "projeto de negócio")
}

func TestResolveIntent_RejectsUnknownChoice(t *testing.T) {
	p := NewPolicy(&fakeCompleter{})
	state := NewDialogueState()
	p.StartIntake(state, "oi")

	_, _, err := p.ResolveIntent(context.Background(), state, "enterprise", ProjectContext{})
	assert.ErrorIs(t, err, serrors.ErrInvalidInput)
}

func TestNextQuestion_RetryBudgetOnTransportFailure(t *testing.T) {
	fake := &fakeCompleter{script: []fakeResult{
		{err: serrors.NewTransportError(503, "down")},
	}}
	p := NewPolicy(fake)
	state := followUpState()
	before := snapshot(t, state)

	_, err := p.NextQuestion(context.Background(), state, ProjectContext{})
	assert.ErrorIs(t, err, serrors.ErrInvalidMessage)
	assert.Len(t, fake.calls, 3, "must attempt exactly 3 calls, never loop")
	assert.Equal(t, before, snapshot(t, state), "state must be untouched after exhausted retries")
}

func TestNextQuestion_ConfigurationErrorIsNotRetried(t *testing.T) {
	fake := &fakeCompleter{script: []fakeResult{{err: serrors.ErrConfiguration}}}
	p := NewPolicy(fake)
	state := followUpState()

	_, err := p.NextQuestion(context.Background(), state, ProjectContext{})
	assert.ErrorIs(t, err, serrors.ErrConfiguration)
	assert.Len(t, fake.calls, 1)
}

func TestNextQuestion_RetriesOnRepeatedCandidate(t *testing.T) {
	fake := &fakeCompleter{script: []fakeResult{
		{content: questionJSON("Qual é o público-alvo do sistema de agendamento?")}, // repeat of last question
		{content: questionJSON("Quantos agendamentos por dia você espera processar?")},
	}}
	p := NewPolicy(fake)
	state := followUpState()

	res, err := p.NextQuestion(context.Background(), state, ProjectContext{})
	require.NoError(t, err)
	assert.Equal(t, "Quantos agendamentos por dia você espera processar?", res.Message)
	require.Len(t, fake.calls, 2)

	// second attempt carries the corrective instruction in the accumulator
	last := fake.calls[1][len(fake.calls[1])-1]
	assert.Equal(t, retryInvalidInstruction, last.Content)

	// but the corrective instruction never leaks into persisted history
	for _, turn := range state.History {
		assert.NotEqual(t, retryInvalidInstruction, turn.Content)
		assert.NotEqual(t, retryTransportInstruction, turn.Content)
	}
}

func TestNextQuestion_ListsRecentQuestionsInInstruction(t *testing.T) {
	fake := &fakeCompleter{script: []fakeResult{
		{content: questionJSON("Existe algum prazo para o lançamento?")},
	}}
	p := NewPolicy(fake)
	state := followUpState()

	_, err := p.NextQuestion(context.Background(), state, ProjectContext{})
	require.NoError(t, err)

	instruction := fake.calls[0][len(fake.calls[0])-1]
	assert.Contains(t, instruction.Content, "Qual é o público-alvo do sistema de agendamento?")
}

func TestReviewAnswer_SelfHealingFallback(t *testing.T) {
	answer := "Atenderemos clínicas de pequeno porte na região sul do país"
	fake := &fakeCompleter{script: []fakeResult{
		// review verdict: needs more, but the message just echoes the answer
		{content: `{"needs_more": true, "message": "Atenderemos clínicas de pequeno porte na região sul do país"}`},
		// the substituted nextQuestion call
		{content: questionJSON("Quantos profissionais de saúde usarão o sistema?")},
	}}
	p := NewPolicy(fake)
	state := followUpState()

	res, err := p.ReviewAnswer(context.Background(), state, answer, ProjectContext{})
	require.NoError(t, err)
	assert.True(t, res.NeedsMore)
	assert.Equal(t, "Quantos profissionais de saúde usarão o sistema?", res.Message)
	assert.Len(t, fake.calls, 2, "invalid follow-up must be substituted via the question path")
	assert.Equal(t, 2, state.QuestionsAsked)
}

func TestReviewAnswer_MalformedSuccessRetries(t *testing.T) {
	fake := &fakeCompleter{script: []fakeResult{
		{content: `{"needs_more": false}`}, // sufficient verdict without a summary
		{content: `{"needs_more": true, "message": "Qual é o orçamento previsto para a primeira fase?"}`},
	}}
	p := NewPolicy(fake)
	state := followUpState()

	res, err := p.ReviewAnswer(context.Background(), state, "Cerca de trezentos agendamentos por dia em horário comercial", ProjectContext{})
	require.NoError(t, err)
	assert.True(t, res.NeedsMore)
	assert.Len(t, fake.calls, 2)
}

func TestReviewAnswer_FinalizationFloorIsParameter(t *testing.T) {
	sufficient := `{"needs_more": false, "summary": {"overview": "o", "purpose": "p", "scope": "s", "target_users": "t", "nfr_summary": "n"}}`

	// below a floor of 5, a sufficient verdict forces another follow-up
	fake := &fakeCompleter{script: []fakeResult{
		{content: sufficient},
		{content: questionJSON("Quais integrações externas o sistema precisa ter?")},
	}}
	p := NewPolicy(fake, WithMinQuestions(5))
	state := followUpState()
	state.QuestionsAsked = 2

	res, err := p.ReviewAnswer(context.Background(), state, "Cerca de trezentos agendamentos por dia em horário comercial", ProjectContext{})
	require.NoError(t, err)
	assert.True(t, res.NeedsMore)
	assert.NotEqual(t, StateCompleted, state.State)

	// with a floor of 2 the same exchange finalizes
	fake = &fakeCompleter{script: []fakeResult{{content: sufficient}}}
	p = NewPolicy(fake, WithMinQuestions(2))
	state = followUpState()
	state.QuestionsAsked = 2

	res, err = p.ReviewAnswer(context.Background(), state, "Cerca de trezentos agendamentos por dia em horário comercial", ProjectContext{})
	require.NoError(t, err)
	assert.False(t, res.NeedsMore)
	require.NotNil(t, res.Summary)
	assert.Equal(t, "o", res.Summary.Overview)
	assert.Equal(t, StateCompleted, state.State)
}

func TestReviewAnswer_NoMutationOnFailure(t *testing.T) {
	fake := &fakeCompleter{script: []fakeResult{
		{err: serrors.NewTransportError(502, "bad gateway")},
	}}
	p := NewPolicy(fake)
	state := followUpState()
	before := snapshot(t, state)

	_, err := p.ReviewAnswer(context.Background(), state, "uma resposta qualquer do usuário", ProjectContext{})
	assert.ErrorIs(t, err, serrors.ErrInvalidMessage)
	assert.Len(t, fake.calls, 2, "review budget is 2 attempts")
	assert.Equal(t, before, snapshot(t, state))
}

func TestSummarizeNow_AcceptsSummaryWithoutDiscriminator(t *testing.T) {
	fake := &fakeCompleter{script: []fakeResult{
		{content: `{"summary": {"overview": "Sistema de agendamento", "purpose": "Não informado", "scope": "Não informado", "target_users": "Clínicas", "nfr_summary": "Não informado"}}`},
	}}
	p := NewPolicy(fake)
	state := followUpState()

	summary, err := p.SummarizeNow(context.Background(), state, ProjectContext{})
	require.NoError(t, err)
	assert.Equal(t, "Sistema de agendamento", summary.Overview)
	assert.Equal(t, StateCompleted, state.State)

	// the forced path instructs placeholder fill
	instruction := fake.calls[0][len(fake.calls[0])-1]
	assert.Contains(t, instruction.Content, "Não informado")
}

func TestSummarizeNow_EmptyConversationRejected(t *testing.T) {
	p := NewPolicy(&fakeCompleter{})
	_, err := p.SummarizeNow(context.Background(), NewDialogueState(), ProjectContext{})
	assert.ErrorIs(t, err, serrors.ErrInvalidInput)
}

func TestEndToEnd_FullIntakeCycle(t *testing.T) {
	questions := []string{
		"Quem são os clientes pagantes do seu delivery?",
		"Qual região o serviço vai cobrir no lançamento?",
		"Quantos pedidos por dia você espera no primeiro mês?",
		"Como os restaurantes parceiros serão cadastrados?",
		"Existe algum requisito de tempo máximo de entrega?",
	}
	sufficient := `{"needs_more": false, "summary": {"overview": "App de delivery regional", "purpose": "Conectar restaurantes a clientes", "scope": "Pedidos, pagamento e rastreio", "target_users": "Restaurantes e consumidores locais", "nfr_summary": "Pico de 500 pedidos/hora"}}`

	script := []fakeResult{{content: questionJSON(questions[0])}}
	for _, q := range questions[1:] {
		script = append(script, fakeResult{content: `{"needs_more": true, "message": ` + jsonString(q) + `}`})
	}
	script = append(script, fakeResult{content: sufficient})

	fake := &fakeCompleter{script: script}
	p := NewPolicy(fake, WithMinQuestions(5))
	state := NewDialogueState()
	pc := ProjectContext{Name: "Delivery"}

	start := p.StartIntake(state, "quero criar um app de delivery")
	assert.Len(t, start.Options, 3)
	assert.Equal(t, 0, state.QuestionsAsked)

	tag, first, err := p.ResolveIntent(context.Background(), state, "business", pc)
	require.NoError(t, err)
	pc.Tags = unionTags(pc.Tags, tag)
	assert.Equal(t, questions[0], first.Message)
	assert.Equal(t, 1, state.QuestionsAsked)

	answers := []string{
		"Restaurantes locais pagam mensalidade e taxa por pedido",
		"Vamos começar pela região metropolitana de Curitiba",
		"Esperamos por volta de duzentos pedidos por dia no início",
		"Os restaurantes terão um painel próprio de autocadastro",
	}
	for i, answer := range answers {
		res, err := p.ReviewAnswer(context.Background(), state, answer, pc)
		require.NoError(t, err)
		assert.True(t, res.NeedsMore)
		assert.Equal(t, questions[i+1], res.Message)
		assert.Equal(t, i+2, state.QuestionsAsked)
	}

	require.Equal(t, 5, state.QuestionsAsked)
	final, err := p.ReviewAnswer(context.Background(), state, "Entrega em até quarenta minutos na área de cobertura", pc)
	require.NoError(t, err)
	assert.False(t, final.NeedsMore)
	require.NotNil(t, final.Summary)
	assert.Equal(t, "App de delivery regional", final.Summary.Overview)
	assert.Equal(t, "Conectar restaurantes a clientes", final.Summary.Purpose)
	assert.Equal(t, "Pedidos, pagamento e rastreio", final.Summary.Scope)
	assert.Equal(t, "Restaurantes e consumidores locais", final.Summary.TargetUsers)
	assert.Equal(t, "Pico de 500 pedidos/hora", final.Summary.NFRSummary)
	assert.Equal(t, StateCompleted, state.State)
}

// followUpState builds a mid-intake session: intent chosen, one question
// asked and answered.
func followUpState() *DialogueState {
	s := NewDialogueState()
	s.appendTurn(llm.RoleUser, "Quero um sistema de agendamento de consultas médicas para clínicas pequenas")
	s.appendTurn(llm.RoleAssistant, intentQuestion)
	s.appendTurn(llm.RoleUser, "Projeto de negócio")
	s.appendTurn(llm.RoleAssistant, "Qual é o público-alvo do sistema de agendamento?")
	s.QuestionsAsked = 1
	s.State = StateAskingFollowUp
	return s
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
