package chain

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/Protocol-Lattice/ragd/src/models"
	"github.com/Protocol-Lattice/ragd/src/rag/memory"
	"github.com/Protocol-Lattice/ragd/src/rag/store"
)

// Pipeline answers questions over the retrieval context and records the
// exchange into conversation memory.
type Pipeline struct {
	Composer *Composer
	LLM      models.Agent
	Memory   *memory.Store
}

// Answer is one answered question with the sources behind it.
type Answer struct {
	Text      string         `json:"response"`
	Documents []store.Result `json:"documents,omitempty"`
	Memory    []store.Result `json:"memory,omitempty"`
}

// Ask runs the full chain: compose context, generate, then record both turns.
// A generation failure aborts before anything is recorded, so memory never
// holds a question with no answer. Recording failures are logged, not fatal;
// the user already has their answer.
func (p *Pipeline) Ask(ctx context.Context, sessionID, question string) (Answer, error) {
	composed := p.Composer.Compose(ctx, sessionID, question)
	prompt := BuildPrompt(composed.Text, question)

	text, err := p.LLM.Generate(ctx, prompt)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %v", models.ErrGeneration, err)
	}
	text = strings.TrimSpace(text)

	if p.Memory != nil {
		if err := p.Memory.RecordTurn(ctx, sessionID, "user", question); err != nil {
			log.Printf("chain: failed to record user turn: %v", err)
		} else if err := p.Memory.RecordTurn(ctx, sessionID, "assistant", text); err != nil {
			log.Printf("chain: failed to record assistant turn: %v", err)
		}
	}

	return Answer{
		Text:      text,
		Documents: composed.Documents,
		Memory:    composed.Memory,
	}, nil
}
