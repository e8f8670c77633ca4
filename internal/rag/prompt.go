package rag

import (
	"strings"

	"github.com/fjwyyds6668/ai-tourguide/internal/domain"
	"github.com/fjwyyds6668/ai-tourguide/internal/llm"
)

const groundingInstructions = `请优先依据下面的参考资料回答。资料中没有的信息不要编造，可以坦诚说明并给出一般性建议。`

// buildMessages assembles persona, retrieved context, the most recent
// history and the query, in that order. fused is nil when retrieval was
// skipped.
func buildMessages(persona string, fused *domain.FusedContext, history []domain.Turn, historyTurns int, query string) []llm.Message {
	var system strings.Builder
	system.WriteString(persona)
	if fused != nil {
		system.WriteString("\n\n")
		system.WriteString(groundingInstructions)
		system.WriteString("\n\n参考资料：\n")
		system.WriteString(fused.Text)
	}

	if historyTurns > 0 && len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system.String()})
	for _, t := range history {
		role := llm.RoleUser
		if t.Role == domain.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: t.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: query})
	return messages
}
