package httpclient

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseOpenAIRateLimitHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "30")
	h.Set("x-ratelimit-reset-requests", "1640995200")
	h.Set("x-ratelimit-remaining-requests", "5")
	h.Set("x-ratelimit-remaining-tokens", "100")

	info := ParseOpenAIRateLimitHeaders(h)
	require.Equal(t, 30*time.Second, info.RetryAfter)
	require.EqualValues(t, 1640995200, info.ResetTime)
	require.Equal(t, 5, info.RequestsRemaining)
	require.Equal(t, 100, info.TokensRemaining)
}

func TestParseOpenAIRateLimitHeadersInvalidRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "not-a-number")
	info := ParseOpenAIRateLimitHeaders(h)
	require.Zero(t, info.RetryAfter)
}

func TestParseAnthropicRateLimitHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("retry-after", "5")
	h.Set("anthropic-ratelimit-requests-reset", "2022-01-01T00:00:00Z")
	h.Set("anthropic-ratelimit-requests-remaining", "2")
	h.Set("anthropic-ratelimit-input-tokens-remaining", "10")
	h.Set("anthropic-ratelimit-output-tokens-remaining", "20")

	info := ParseAnthropicRateLimitHeaders(h)
	require.Equal(t, 5*time.Second, info.RetryAfter)
	require.EqualValues(t, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC).Unix(), info.ResetTime)
	require.Equal(t, 2, info.RequestsRemaining)
	require.Equal(t, 10, info.InputTokensRemaining)
	require.Equal(t, 20, info.OutputTokensRemaining)
}

func TestParseAnthropicRateLimitHeadersEmpty(t *testing.T) {
	require.Equal(t, RateLimitInfo{}, ParseAnthropicRateLimitHeaders(http.Header{}))
}

func TestRetryableErrorMessage(t *testing.T) {
	e := &RetryableError{StatusCode: 429, Message: "rate limited", RetryAfter: 2 * time.Second}
	require.Contains(t, e.Error(), "retry after 2s")
	require.True(t, e.IsRetryable())

	plain := &RetryableError{StatusCode: 500, Message: "boom"}
	require.NotContains(t, plain.Error(), "retry after")
}
