package app

import (
	"strings"

	"askdoc/internal/ai"
	"askdoc/internal/model"
)

const (
	systemInstruction = "Use the following pieces of context (or previous conversation if needed) to answer the users question in markdown format."
	answerGuidance    = "Use the following pieces of context (or previous conversation if needed) to answer the users question in markdown format. \nIf you don't know the answer, just say that you don't know, don't try to make up an answer."
)

// BuildPrompt lays out a system instruction followed by one user message holding the
// conversation so far, the retrieved context and the question, in that order.
func BuildPrompt(history []model.Message, chunks []model.ContextChunk, question string) []ai.ChatMessage {
	var b strings.Builder
	b.WriteString(answerGuidance)

	b.WriteString("\n\n----------------\n\nPREVIOUS CONVERSATION:\n")
	for _, m := range history {
		if m.Role == model.RoleUser {
			b.WriteString("User: ")
		} else {
			b.WriteString("Assistant: ")
		}
		b.WriteString(m.Text)
		b.WriteString("\n")
	}

	b.WriteString("\n----------------\n\nCONTEXT:\n")
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	b.WriteString(strings.Join(texts, "\n\n"))

	b.WriteString("\n\nUSER INPUT: ")
	b.WriteString(question)

	return []ai.ChatMessage{
		{Role: ai.RoleSystem, Content: systemInstruction},
		{Role: ai.RoleUser, Content: b.String()},
	}
}
