// Package provider wraps the text-generation collaborator. It is used only
// for SMALLTALK/GENERAL turns; every energy answer is produced
// deterministically by the dispatcher. The collaborator is assumed fallible
// and slow, so callers always go through the Fallback decorator.
package provider

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// Usage reports token consumption for rate-limit true-up.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Provider completes a message exchange into one assistant reply.
type Provider interface {
	Complete(ctx context.Context, messages []*schema.Message) (string, Usage, error)
}

func usageFromMessage(msg *schema.Message) Usage {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return Usage{}
	}
	u := msg.ResponseMeta.Usage
	return Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
