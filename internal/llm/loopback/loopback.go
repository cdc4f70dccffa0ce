// Package loopback provides a deterministic completion backend for local
// runs and tests. It never leaves the process.
package loopback

import (
	"context"
	"fmt"
	"strings"

	"github.com/router-for-me/ChatBilling/internal/llm"
	"github.com/router-for-me/ChatBilling/internal/models"
)

const replyPrefix = "[loopback] "

// promptTokensPerMessage is the fixed prompt cost charged per history entry.
const promptTokensPerMessage = 10

// Adapter echoes the most recent user message.
type Adapter struct{}

// New returns a loopback Adapter.
func New() *Adapter {
	return &Adapter{}
}

// Complete echoes the last user message back as the assistant reply.
func (a *Adapter) Complete(ctx context.Context, req llm.Request) (llm.Completion, error) {
	if err := ctx.Err(); err != nil {
		return llm.Completion{}, llm.Classify(err)
	}
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == models.MessageRoleUser {
			last = req.Messages[i].Content
			break
		}
	}
	if strings.TrimSpace(last) == "" {
		return llm.Completion{}, fmt.Errorf("%w: loopback: no user message", llm.ErrProviderError)
	}
	reply := replyPrefix + last
	completionTokens := int64(len(reply) / 4)
	if completionTokens == 0 {
		completionTokens = 1
	}
	return llm.Completion{
		Text:             reply,
		PromptTokens:     int64(len(req.Messages) * promptTokensPerMessage),
		CompletionTokens: completionTokens,
	}, nil
}
