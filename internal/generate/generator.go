// Package generate produces the final natural-language answer from the
// merged retrieval context.
package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/simpleflo/lattice/internal/backend"
	"github.com/simpleflo/lattice/internal/observability"
	"github.com/simpleflo/lattice/pkg/models"
)

// ChatClient is the LLM slice the generator needs.
type ChatClient interface {
	Chat(ctx context.Context, system, prompt string) (string, error)
}

// Generator turns merged context into a response.
type Generator struct {
	llm    ChatClient
	logger zerolog.Logger
}

// New creates a Generator.
func New(llm ChatClient) *Generator {
	return &Generator{llm: llm, logger: observability.Logger("generator")}
}

const apologyResponse = "죄송합니다. 요청하신 내용에 대한 자료를 찾지 못했습니다. 키워드를 바꾸어 다시 질문해 주시면 도움이 될 수 있습니다."

const greetingResponse = "안녕하세요! R&D 특허, 연구과제, 연구장비 정보를 검색해 드립니다. 무엇을 찾아드릴까요?"

// noHallucinationPrompt is the base system prompt. The model may only
// state what the context contains.
const noHallucinationPrompt = `당신은 R&D 정보 검색 도우미입니다. 아래 규칙을 반드시 지키세요.
1. 제공된 컨텍스트에 있는 사실만 답변에 사용합니다. 컨텍스트에 없는 수치, 기관명, 제목을 만들어내지 마세요.
2. 표 형태의 컨텍스트는 표 형태로 유지하여 답변합니다.
3. 복합 질의의 경우 엔티티별 표를 섞지 말고 순서대로 제시한 뒤 마지막에 종합 결론을 덧붙입니다.
4. 컨텍스트가 빈약하면 그 사실을 솔직하게 밝힙니다.`

// levelGuides adapt the register to the requested answer depth.
var levelGuides = map[models.Level]string{
	models.LevelL1:         "초등학생도 이해할 수 있게 아주 쉽게 설명하세요.",
	models.LevelL2:         "비전공자가 이해할 수 있게 쉽게 설명하세요.",
	models.LevelElementary: "비전공자가 이해할 수 있게 쉽게 설명하세요.",
	models.LevelL3:         "일반 성인 독자 수준으로 설명하세요.",
	models.LevelGeneral:    "일반 성인 독자 수준으로 설명하세요.",
	models.LevelL4:         "실무자 수준으로 설명하세요.",
	models.LevelL5:         "전문 용어를 사용해 전문가 수준으로 설명하세요.",
	models.LevelL6:         "전문 용어를 사용해 전문가 수준으로 설명하세요.",
	models.LevelExpert:     "전문 용어를 사용해 전문가 수준으로 설명하세요.",
}

// Generate produces the response and appends the turn to history.
func (g *Generator) Generate(ctx context.Context, state models.WorkflowState) models.WorkflowState {
	response := g.generate(ctx, &state)
	state.Response = response
	state.AppendHistory("user", state.Query)
	state.AppendHistory("assistant", response)
	return state
}

func (g *Generator) generate(ctx context.Context, state *models.WorkflowState) string {
	if state.QueryType == models.QueryTypeSimple &&
		(state.QueryIntent == "greeting" || state.QuerySubtype == "greeting") {
		return greetingResponse
	}

	contextBlock := BuildContext(state)
	if contextBlock == "" && state.QueryType != models.QueryTypeSimple {
		// Nothing retrieved anywhere; a fixed apology beats a guess.
		return apologyResponse
	}

	reply, err := g.llm.Chat(ctx, g.systemPrompt(state), g.userPrompt(state, contextBlock))
	if err != nil {
		g.logger.Error().Err(err).Msg("response generation failed")
		state.AppendError(models.Wrap(models.ErrResponseGeneration, "응답 생성 실패", err).Error())
		return apologyResponse
	}
	reply = strings.TrimSpace(backend.StripReasoning(reply))
	if reply == "" {
		return apologyResponse
	}
	return reply
}

func (g *Generator) systemPrompt(state *models.WorkflowState) string {
	var sb strings.Builder
	sb.WriteString(noHallucinationPrompt)
	if guide, ok := levelGuides[state.Level]; ok {
		sb.WriteString("\n5. " + guide)
	}
	if state.ContextQuality < 0.3 {
		sb.WriteString("\n6. 검색 결과가 부족하므로 단정적인 결론을 내리지 마세요.")
	}
	return sb.String()
}

// userPrompt assembles the final prompt. The word budget scales with
// structural complexity: dual-table and multi-entity answers need room.
func (g *Generator) userPrompt(state *models.WorkflowState, contextBlock string) string {
	var sb strings.Builder
	if contextBlock != "" {
		sb.WriteString("컨텍스트:\n")
		sb.WriteString(contextBlock)
		sb.WriteString("\n\n")
	}
	if n := len(state.ConversationHistory); n > 0 {
		sb.WriteString("이전 대화:\n")
		for _, msg := range state.ConversationHistory[maxInt(0, n-4):] {
			sb.WriteString(msg.Role + ": " + msg.Content + "\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("질문: " + state.Query + "\n")
	fmt.Fprintf(&sb, "위 컨텍스트만 사용하여 %d단어 이내로 답변하세요.", g.wordBudget(state))
	return sb.String()
}

// wordBudget scales the response cap with output structure.
func (g *Generator) wordBudget(state *models.WorkflowState) int {
	switch {
	case len(state.SubQueryResults) > 1 || len(state.MultiSQLResults) > 1:
		return 800
	case state.ESStatistics != nil && state.SQLResult != nil:
		return 600
	default:
		return 400
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
