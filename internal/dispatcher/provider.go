package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/starkbot-agent/core/internal/errs"
	"github.com/starkbot-agent/core/internal/events"
	"github.com/starkbot-agent/core/internal/llm"
	"github.com/starkbot-agent/core/pkg/models"
)

// buildProvider instantiates the llm.Provider named by settings.Provider.
// The llm package stays decoupled from pkg/models (see its Message/Role
// doc comments), so this is the seam that turns AgentSettings into a
// concrete provider.
func buildProvider(settings models.AgentSettings) (llm.Provider, error) {
	switch strings.ToLower(settings.Provider) {
	case "anthropic", "":
		return llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:       settings.APIKey,
			DefaultModel: settings.Model,
		})
	case "openai":
		return llm.NewOpenAIProvider(settings.APIKey), nil
	case "bedrock":
		return llm.NewBedrockProvider(llm.BedrockConfig{
			DefaultModel: settings.Model,
		})
	default:
		return nil, errs.UserMsg("dispatcher.buildProvider", "unknown agent provider: "+settings.Provider)
	}
}

const (
	maxLLMRetries    = 3
	retryBaseBackoff = 2 * time.Second
)

// statusCoder is implemented by llm.ProviderError (and any provider error
// that wants to participate in the dispatcher's retry policy) to expose
// the HTTP-ish status code behind it.
type statusCoder interface {
	StatusCode() int
}

// generateWithRetry wraps a single llm.Provider.GenerateText/GenerateWithTools
// call with the dispatcher's own retry policy: {429, 502, 503, 504} and a
// transient-looking 402 are retried up to three times with exponential
// backoff starting at 2s, broadcasting ai.retrying on every retry. This is
// layered on top of llm.BaseProvider's own (linear, provider-internal)
// retry, not a replacement for it.
func generateWithRetry(ctx context.Context, channelID int64, broadcaster *events.Broadcaster, call func(context.Context) (*llm.Response, error)) (*llm.Response, error) {
	delay := retryBaseBackoff
	var lastErr error
	for attempt := 0; attempt <= maxLLMRetries; attempt++ {
		resp, err := call(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt == maxLLMRetries || !isDispatcherRetryable(err) {
			return nil, err
		}

		if broadcaster != nil {
			broadcaster.Publish(models.NewEvent(models.EventAIRetrying, channelID, map[string]any{
				"attempt": attempt + 1,
				"delay_s": int(delay / time.Second),
				"error":   err.Error(),
			}))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}

func isDispatcherRetryable(err error) bool {
	if llm.IsRetryable(err) {
		return true
	}

	status := statusOf(err)
	switch status {
	case 429, 502, 503, 504:
		return true
	case 402:
		return isTransientBilling(err)
	}
	return false
}

// isTransientBilling treats a 402 as retryable only when the error text
// looks like a transient upstream hiccup (rate/credit reservation races)
// rather than a genuine billing failure, which llm.ShouldFailover already
// routes to a provider failover instead of a retry.
func isTransientBilling(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"try again", "temporarily", "timeout", "rate"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func statusOf(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}

	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		if pe.Status != 0 {
			return pe.Status
		}
	}

	// Fall back to scraping a leading 3-digit status out of the error text,
	// the shape most HTTP client errors in this codebase take.
	msg := err.Error()
	for i := 0; i+3 <= len(msg); i++ {
		if n, convErr := strconv.Atoi(msg[i : i+3]); convErr == nil && n >= 400 && n < 600 {
			return n
		}
	}
	return 0
}

var errMissingAgentSettings = fmt.Errorf("agent settings are not configured")
