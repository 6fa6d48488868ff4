package chain

import "fmt"

const answerTemplate = `You are a helpful assistant. Use the context below to answer the user's question. If the context does not contain the answer, say so honestly instead of guessing.

Context:
%s

Question: %s`

const noContextTemplate = `You are a helpful assistant. No relevant context was found for this question; answer from general knowledge and say when you are unsure.

Question: %s`

// BuildPrompt renders the final prompt handed to the model.
func BuildPrompt(contextText, question string) string {
	if contextText == "" {
		return fmt.Sprintf(noContextTemplate, question)
	}
	return fmt.Sprintf(answerTemplate, contextText, question)
}
