package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"golang.org/x/time/rate"
	"lexai/pkg/ai"
	"lexai/pkg/domain"
)

const DefaultTimeout = 60 * time.Second

// ErrEmptyResponse is wrapped when the provider returns only whitespace.
var ErrEmptyResponse = errors.New("empty model response")

// GenerationError wraps any provider failure, timeout or empty response.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Config tunes provider calls.
type Config struct {
	Timeout time.Duration
	// RequestsPerSecond > 0 throttles calls client-side; Burst defaults to 1.
	RequestsPerSecond float64
	Burst             int
}

// Engine renders the fixed prompt templates and calls the text generator.
type Engine struct {
	gen     ai.TextGenerator
	timeout time.Duration
	limiter *rate.Limiter
}

// NewEngine builds an Engine around gen.
func NewEngine(gen ai.TextGenerator, cfg Config) (*Engine, error) {
	if gen == nil {
		return nil, errors.New("text generator required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	e := &Engine{gen: gen, timeout: cfg.Timeout}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return e, nil
}

// AnswerFromContext answers query using only the retrieved chunks.
func (e *Engine) AnswerFromContext(ctx context.Context, query string, chunks []string) (string, error) {
	return e.generate(ctx, "answer", pdfQueryTemplate, map[string]string{
		"Context":  strings.Join(chunks, "\n\n"),
		"Question": query,
	})
}

// DraftArgument writes a formal argument for the requested side.
func (e *Engine) DraftArgument(ctx context.Context, details domain.CaseDetails) (string, error) {
	return e.generate(ctx, "argument", legalArgumentTemplate, details)
}

// ExplainLawQuery explains a legal concept, section or act.
func (e *Engine) ExplainLawQuery(ctx context.Context, query string) (string, error) {
	return e.generate(ctx, "law search", lawSearchTemplate, map[string]string{"Query": query})
}

func (e *Engine) generate(ctx context.Context, op string, tmpl *template.Template, data any) (string, error) {
	prompt, err := render(tmpl, data)
	if err != nil {
		return "", &GenerationError{Op: op, Err: fmt.Errorf("render prompt: %w", err)}
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return "", &GenerationError{Op: op, Err: fmt.Errorf("throttle: %w", err)}
		}
	}
	out, err := e.gen.GenerateText(ctx, systemPrompt, prompt)
	if err != nil {
		return "", &GenerationError{Op: op, Err: err}
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", &GenerationError{Op: op, Err: ErrEmptyResponse}
	}
	return out, nil
}
