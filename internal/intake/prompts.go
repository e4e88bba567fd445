package intake

import (
	"fmt"
	"strings"
)

// The intent question is fixed and costs no LLM call.
const intentQuestion = "Antes de começarmos: qual é a natureza deste projeto?"

var intentOptions = []IntentOption{
	{Value: IntentBusiness, Label: "Projeto de negócio"},
	{Value: IntentStudy, Label: "Projeto de estudo"},
	{Value: IntentStandardSoftware, Label: "Software padrão"},
}

// IntentOptions returns the fixed three-choice list offered on start.
func IntentOptions() []IntentOption {
	out := make([]IntentOption, len(intentOptions))
	copy(out, intentOptions)
	return out
}

const baseSystemPrompt = `Você é um consultor de projetos de software conduzindo uma entrevista de descoberta.
Regras:
- Responda sempre em português, no mesmo idioma do usuário.
- Faça uma única pergunta curta e objetiva por vez.
- Nunca repita uma pergunta já feita nem devolva as palavras do usuário.
- Não dê opiniões nem sugestões técnicas nesta fase; apenas colete informação.`

// defaultFramings returns the mutually exclusive framings keyed by the
// stored intent tag.
func defaultFramings() map[IntentTag]string {
	return map[IntentTag]string{
		IntentBusiness: `Contexto: este é um projeto de negócio. Priorize perguntas sobre modelo de receita,
clientes pagantes, diferencial competitivo e metas comerciais.`,
		IntentStudy: `Contexto: este é um projeto de estudo. Priorize perguntas sobre objetivos de aprendizado,
tecnologias que o usuário quer praticar e critérios pessoais de sucesso.`,
		IntentStandardSoftware: `Contexto: este é um software padrão interno. Priorize perguntas sobre processos que serão
automatizados, usuários internos e integrações com sistemas existentes.`,
	}
}

// systemPrompt builds the base prompt plus the intent-specific framing and
// any known project fields. No framing is injected when untagged.
func (p *Policy) systemPrompt(pc ProjectContext) string {
	var b strings.Builder
	b.WriteString(p.basePrompt)
	if framing, ok := p.framings[pc.ActiveIntent()]; ok {
		b.WriteString("\n\n")
		b.WriteString(framing)
	}
	if pc.Name != "" {
		fmt.Fprintf(&b, "\n\nNome do projeto: %s", pc.Name)
	}
	if pc.Description != "" {
		fmt.Fprintf(&b, "\nDescrição atual: %s", pc.Description)
	}
	return b.String()
}

// nextQuestionInstruction asks for exactly one short question as JSON,
// listing recent assistant messages so the model avoids repeating them.
func nextQuestionInstruction(recent []string) string {
	var b strings.Builder
	b.WriteString(`Formule a PRÓXIMA pergunta da entrevista.
Responda SOMENTE com um objeto JSON neste formato, sem markdown e sem texto extra:
{"message": "<uma pergunta curta>"}`)
	if len(recent) > 0 {
		b.WriteString("\n\nNão repita nem parafraseie estas perguntas já feitas:")
		for _, msg := range recent {
			b.WriteString("\n- ")
			b.WriteString(msg)
		}
	}
	return b.String()
}

// reviewInstruction asks the model to either judge the latest answer
// insufficient (follow-up question) or sufficient (five-field summary),
// discriminated by needs_more in a single JSON shape.
const reviewInstruction = `Avalie a última resposta do usuário.
Se ainda faltar informação essencial sobre o projeto, responda:
{"needs_more": true, "message": "<uma pergunta curta de acompanhamento>"}
Se já houver informação suficiente, responda:
{"needs_more": false, "summary": {"overview": "...", "purpose": "...", "scope": "...", "target_users": "...", "nfr_summary": "..."}}
Responda SOMENTE com o objeto JSON, sem markdown e sem texto extra.`

// forceSummaryInstruction ends the intake early: every field must be
// filled, using an explicit placeholder when the information is missing.
const forceSummaryInstruction = `Encerre a entrevista agora e produza o resumo do projeto.
Preencha TODOS os campos abaixo mesmo com informação incompleta; quando não souber, use o texto "Não informado".
Responda SOMENTE com um objeto JSON neste formato, sem markdown e sem texto extra:
{"summary": {"overview": "...", "purpose": "...", "scope": "...", "target_users": "...", "nfr_summary": "..."}}`

// Corrective instructions appended to the in-call accumulator on retry.
// They never leak into the persisted history.
const (
	retryTransportInstruction = `A chamada anterior falhou. Tente novamente e responda SOMENTE com o objeto JSON pedido.`
	retryInvalidInstruction   = `A mensagem anterior era repetida, vazia ou apenas ecoava o usuário. Produza uma pergunta DIFERENTE, no mesmo formato JSON.`
	retryDecodeInstruction    = `A resposta anterior não era um objeto JSON válido. Responda SOMENTE com o objeto JSON pedido, sem texto extra.`
)
