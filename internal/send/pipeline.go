// Package send turns a boundary snapshot and a new user message into a
// provider request, and recovers from context overflow rejections by
// trimming the oldest included exchange and retrying.
package send

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/s33g/prompter/internal/conversation"
	"github.com/s33g/prompter/internal/llm"
	"github.com/s33g/prompter/internal/tokens"
)

// Transport delivers one chat request to a provider
type Transport interface {
	SendChat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// Request is one outgoing user turn
type Request struct {
	Model        string // empty: the snapshot's model
	UserText     string
	SystemPrompt string // sent first when set; not counted against the budget
	MaxTokens    int    // reply cap, 0 for the provider default

	// Exchanges is the chronological history, used only when Boundary is nil
	Exchanges []conversation.Exchange
	// Boundary is the snapshot to start from. It is never modified.
	Boundary *conversation.Boundary

	// OnDebug, when set, is called after every attempt
	OnDebug func(DebugPayload)
}

// Result is a successful send
type Result struct {
	Content      string
	Usage        llm.Usage
	Model        string
	TrimmedCount int
	IncludedIDs  []string
	Attempts     []Attempt
}

// Attempt records one provider call
type Attempt struct {
	Index          int
	TrimmedAtStart int
	IncludedCount  int
	Started        time.Time
	Finished       time.Time
	Timings        llm.Timings
	Class          llm.Class // meaningful only when Err is set
	Err            error
}

// Duration returns how long the attempt took
func (a Attempt) Duration() time.Duration {
	return a.Finished.Sub(a.Started)
}

// DebugPayload is an observational snapshot emitted after each attempt
type DebugPayload struct {
	Model         string
	Attempt       int
	Final         bool
	IncludedIDs   []string
	ExcludedCount int
	TrimmedCount  int
	HistoryTokens int
	UserTokens    int
	MaxContext    int
	MaxUsable     int
	Timings       llm.Timings
	Duration      time.Duration
	LastError     string
}

// Pipeline executes sends. Each Send issues at most one provider call at a
// time; retries are strictly sequential.
type Pipeline struct {
	transport Transport
	predictor *conversation.Predictor
	settings  func() conversation.Settings
	logger    zerolog.Logger
	now       func() time.Time
}

// NewPipeline creates a pipeline. settings is read on every send so the trim
// ceiling follows configuration changes.
func NewPipeline(transport Transport, predictor *conversation.Predictor, settings func() conversation.Settings, logger zerolog.Logger) *Pipeline {
	if settings == nil {
		settings = conversation.DefaultSettings
	}
	return &Pipeline{
		transport: transport,
		predictor: predictor,
		settings:  settings,
		logger:    logger.With().Str("component", "send").Logger(),
		now:       time.Now,
	}
}

// Send delivers req. On a context overflow rejection the oldest included
// exchange is dropped and the call retried, at most MaxTrimAttempts times.
// Failures are returned as *Error; cancelling ctx stops the send and the
// trim loop.
func (p *Pipeline) Send(ctx context.Context, req Request) (*Result, error) {
	settings := p.settings()

	// Building
	boundary := req.Boundary
	if boundary == nil {
		boundary = p.predictor.Predict(req.Exchanges, conversation.PredictOptions{
			CharsPerToken:     settings.CharsPerToken,
			ReservedAllowance: settings.UserRequestAllowance,
			Model:             req.Model,
		})
	}

	model := req.Model
	if model == "" {
		model = boundary.Stats.Model
	}
	cpt := boundary.Stats.CharsPerToken
	userTokens := tokens.EstimateTokens(req.UserText, cpt)

	if userTokens > boundary.Stats.MaxContext {
		p.logger.Error().
			Str("model", model).
			Int("user_tokens", userTokens).
			Int("max_context", boundary.Stats.MaxContext).
			Msg("Message exceeds the context budget")
		return nil, &Error{
			Kind:       PromptTooLarge,
			Model:      model,
			UserTokens: userTokens,
			MaxContext: boundary.Stats.MaxContext,
		}
	}

	included := append([]conversation.Exchange(nil), boundary.Included...)
	trimmed := 0
	var attempts []Attempt

	fail := func(kind Kind, err error) error {
		p.logger.Error().
			Err(err).
			Str("model", model).
			Str("kind", kind.String()).
			Int("attempts", len(attempts)).
			Int("trimmed", trimmed).
			Msg("Send failed")
		return &Error{
			Kind:         kind,
			Model:        model,
			TrimmedCount: trimmed,
			Attempts:     len(attempts),
			UserTokens:   userTokens,
			MaxContext:   boundary.Stats.MaxContext,
			Err:          err,
		}
	}

	emit := func(a Attempt, final bool) {
		if req.OnDebug == nil {
			return
		}
		payload := DebugPayload{
			Model:         model,
			Attempt:       a.Index,
			Final:         final,
			IncludedIDs:   exchangeIDs(included),
			ExcludedCount: len(boundary.Excluded) + trimmed,
			TrimmedCount:  trimmed,
			HistoryTokens: p.historyTokens(included, cpt),
			UserTokens:    userTokens,
			MaxContext:    boundary.Stats.MaxContext,
			MaxUsable:     boundary.Stats.MaxUsable,
			Timings:       a.Timings,
			Duration:      a.Duration(),
		}
		if a.Err != nil {
			payload.LastError = a.Err.Error()
		}
		req.OnDebug(payload)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, fail(Unclassified, err)
		}

		// Attempting
		attempt := Attempt{
			Index:          len(attempts) + 1,
			TrimmedAtStart: trimmed,
			IncludedCount:  len(included),
			Started:        p.now(),
		}

		p.logger.Debug().
			Str("model", model).
			Int("attempt", attempt.Index).
			Int("included", len(included)).
			Int("trimmed", trimmed).
			Msg("Calling provider")

		resp, err := p.transport.SendChat(ctx, llm.ChatRequest{
			Model:     model,
			Messages:  buildMessages(req.SystemPrompt, included, req.UserText),
			MaxTokens: req.MaxTokens,
		})
		attempt.Finished = p.now()
		attempt.Timings = timingsOf(resp, err)

		if err == nil {
			// Success
			attempts = append(attempts, attempt)
			emit(attempt, true)

			p.logger.Info().
				Str("model", model).
				Int("attempts", len(attempts)).
				Int("trimmed", trimmed).
				Int("included", len(included)).
				Int("total_tokens", resp.Usage.TotalTokens).
				Msg("Send succeeded")

			return &Result{
				Content:      resp.Content(),
				Usage:        resp.Usage,
				Model:        model,
				TrimmedCount: trimmed,
				IncludedIDs:  exchangeIDs(included),
				Attempts:     attempts,
			}, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		attempt.Class = llm.Classify(err)
		attempt.Err = err
		attempts = append(attempts, attempt)

		switch attempt.Class {
		case llm.ClassAuth:
			emit(attempt, true)
			return nil, fail(AuthFailure, err)

		case llm.ClassOverflow:
			if trimmed >= settings.MaxTrimAttempts || len(included) == 0 {
				emit(attempt, true)
				return nil, fail(ContextOverflowAfterTrimming, err)
			}
			emit(attempt, false)

			// Trimming: drop the oldest still-included exchange
			p.logger.Warn().
				Str("model", model).
				Int("attempt", attempt.Index).
				Str("dropped", included[0].ID).
				Msg("Context overflow, trimming oldest exchange")
			included = included[1:]
			trimmed++

		default:
			emit(attempt, true)
			return nil, fail(Unclassified, err)
		}
	}
}

func (p *Pipeline) historyTokens(included []conversation.Exchange, cpt float64) int {
	total := 0
	for _, e := range included {
		total += p.predictor.EstimateExchange(e, cpt)
	}
	return total
}

// buildMessages lays out the request: optional system prompt, history as
// user/assistant pairs oldest first, then the new user turn. Replies that
// never arrived are left out.
func buildMessages(systemPrompt string, included []conversation.Exchange, userText string) []llm.Message {
	messages := make([]llm.Message, 0, 2*len(included)+2)
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	for _, e := range included {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: e.UserText})
		if e.AssistantText != "" {
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: e.AssistantText})
		}
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: userText})
}

func timingsOf(resp *llm.ChatResponse, err error) llm.Timings {
	if resp != nil {
		return resp.Timings
	}
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Timings
	}
	return llm.Timings{}
}

func exchangeIDs(list []conversation.Exchange) []string {
	ids := make([]string, len(list))
	for i, e := range list {
		ids[i] = e.ID
	}
	return ids
}
