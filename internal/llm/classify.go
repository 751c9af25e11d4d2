package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Class is the coarse category of a provider failure
type Class int

const (
	// ClassOther covers network failures, rate limits and anything unrecognized
	ClassOther Class = iota
	// ClassOverflow means the request exceeded the model's context window
	ClassOverflow
	// ClassAuth means the credentials were rejected
	ClassAuth
)

func (c Class) String() string {
	switch c {
	case ClassOverflow:
		return "overflow"
	case ClassAuth:
		return "auth"
	default:
		return "other"
	}
}

// Structured codes are preferred; phrases are the fallback for providers that
// only describe the problem in the message. Matching is case-insensitive.
var (
	overflowCodes = []string{
		"context_length_exceeded",
		"context_window_exceeded",
		"request_too_large",
		"string_above_max_length",
	}

	overflowPhrases = []string{
		"maximum context length",             // OpenAI, OpenRouter
		"context length exceeded",            // generic
		"context_length_exceeded",            // code echoed in message
		"exceeds the context window",         // OpenAI responses
		"exceed context window",              // generic
		"context window exceeds limit",       // MiniMax
		"prompt is too long",                 // Anthropic
		"input is too long",                  // Bedrock
		"input token count",                  // Gemini
		"reduce the length of the messages",  // Groq
		"exceeds the available context size", // llama.cpp
		"greater than the context length",    // LM Studio
		"maximum prompt length",              // xAI
		"request too large",                  // OpenAI tokens-per-minute ceiling
		"token limit exceeded",               // generic
		"exceeded model token limit",         // Kimi
	}

	authCodes = []string{
		"invalid_api_key",
		"authentication_error",
		"permission_error",
		"unauthorized",
	}

	authPhrases = []string{
		"incorrect api key",
		"invalid api key",
		"invalid x-api-key",
		"api key not valid",
		"missing api key",
		"no api key provided",
		"invalid authentication",
	}

	// A 429 is only an overflow when the single request is larger than the
	// tokens-per-minute ceiling. Everything else on 429 is throttling.
	tpmPhrases = []string{
		"request too large",
		"tokens per min",
	}

	// A 403 carrying one of these is an access policy refusal, not bad
	// credentials.
	accessPhrases = []string{
		"unsupported_country",
		"country, region, or territory",
		"not available in your region",
		"content policy",
		"policy violation",
		"moderation",
	}
)

// Classify reports which class err belongs to. It is the only place that
// knows provider error codes and phrasings. Auth wins over overflow.
// Cancellation is never an overflow or an auth failure.
func Classify(err error) Class {
	if err == nil {
		return ClassOther
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassOther
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		code := strings.ToLower(apiErr.Code)
		errType := strings.ToLower(apiErr.Type)
		msg := strings.ToLower(apiErr.Message)
		switch apiErr.StatusCode {
		case http.StatusUnauthorized:
			return ClassAuth
		case http.StatusForbidden:
			if containsAny(code, accessPhrases) || containsAny(errType, accessPhrases) || containsAny(msg, accessPhrases) {
				return ClassOther
			}
			return ClassAuth
		case http.StatusTooManyRequests:
			if containsAny(code, overflowCodes) || containsAny(msg, tpmPhrases) {
				return ClassOverflow
			}
			return ClassOther
		}
		if containsAny(code, authCodes) || containsAny(errType, authCodes) {
			return ClassAuth
		}
		if containsAny(code, overflowCodes) || containsAny(errType, overflowCodes) {
			return ClassOverflow
		}
		if apiErr.StatusCode == http.StatusRequestEntityTooLarge {
			return ClassOverflow
		}
	}

	msg := strings.ToLower(err.Error())
	if containsAny(msg, authPhrases) {
		return ClassAuth
	}
	if containsAny(msg, overflowPhrases) {
		return ClassOverflow
	}
	return ClassOther
}

func containsAny(s string, needles []string) bool {
	if s == "" {
		return false
	}
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
