package provider

import (
	"context"
	"time"

	"github.com/Wattine-core-poc/server/internal/assistant/model"
	logx "github.com/Wattine-core-poc/server/pkg/logger"
	"github.com/cloudwego/eino/schema"
)

// Canned replies used when the underlying provider fails or times out. The
// turn still succeeds; the degradation is only logged.
const (
	smalltalkFallback = "Hi! I can help you track your home's energy usage. Ask me something like \"how much energy did my AC use yesterday?\""
	generalFallback   = "I'm having trouble reaching my language model right now, but I can still answer energy questions directly. Try asking about a device and a time range."
)

// Fallback decorates a Provider with a per-call timeout and a canned reply
// per intent, so a provider outage never turns into a failed turn.
type Fallback struct {
	inner   Provider
	timeout time.Duration
}

func NewFallback(inner Provider, timeout time.Duration) *Fallback {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Fallback{inner: inner, timeout: timeout}
}

// CompleteOrFallback returns the provider's reply, or the canned reply for
// the intent when the provider is absent, errors, or times out. The returned
// bool reports whether the fallback was used.
func (f *Fallback) CompleteOrFallback(ctx context.Context, intent model.RouteIntent, messages []*schema.Message) (string, Usage, bool) {
	if f.inner == nil {
		return cannedReply(intent), Usage{}, true
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	text, usage, err := f.inner.Complete(ctx, messages)
	if err != nil {
		logx.Warn().Err(err).Str("intent", string(intent)).Msg("provider failed, using fallback reply")
		return cannedReply(intent), usage, true
	}
	return text, usage, false
}

func cannedReply(intent model.RouteIntent) string {
	if intent == model.IntentSmalltalk {
		return smalltalkFallback
	}
	return generalFallback
}
