package generation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"lexai/pkg/domain"
)

type fakeGenerator struct {
	system, user string
	reply        string
	err          error
	block        bool
}

func (f *fakeGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.system, f.user = systemPrompt, userPrompt
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.reply, f.err
}

func TestAnswerFromContextRendersChunksAndQuestion(t *testing.T) {
	gen := &fakeGenerator{reply: "  Section 302 defines murder.  "}
	engine, err := NewEngine(gen, Config{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	out, err := engine.AnswerFromContext(context.Background(), "What does section 302 define?", []string{"chunk one", "chunk two"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if out != "Section 302 defines murder." {
		t.Fatalf("answer not trimmed: %q", out)
	}
	if !strings.Contains(gen.user, "chunk one\n\nchunk two") {
		t.Fatalf("chunks not joined with blank line: %q", gen.user)
	}
	if !strings.Contains(gen.user, "Question: What does section 302 define?") {
		t.Fatalf("question missing: %q", gen.user)
	}
	if !strings.Contains(gen.user, "don't know") || !strings.Contains(gen.system, "LexAI") {
		t.Fatalf("prompt lost its instructions")
	}
}

func TestDraftArgumentIncludesCaseDetails(t *testing.T) {
	gen := &fakeGenerator{reply: "argument"}
	engine, _ := NewEngine(gen, Config{})
	details := domain.CaseDetails{
		Title:        "State v. Sharma",
		Jurisdiction: "Delhi High Court",
		Type:         "Criminal",
		Acts:         "IPC 302",
		Facts:        "The accused was found at the scene.",
		Side:         domain.SideDefense,
	}
	if _, err := engine.DraftArgument(context.Background(), details); err != nil {
		t.Fatalf("draft: %v", err)
	}
	for _, want := range []string{"for the defense", "Case Title: State v. Sharma", "Relevant Acts/Sections: IPC 302", "3-5 main arguments"} {
		if !strings.Contains(gen.user, want) {
			t.Fatalf("prompt missing %q:\n%s", want, gen.user)
		}
	}
}

func TestExplainLawQuery(t *testing.T) {
	gen := &fakeGenerator{reply: "explanation"}
	engine, _ := NewEngine(gen, Config{})
	if _, err := engine.ExplainLawQuery(context.Background(), "Section 498A IPC"); err != nil {
		t.Fatalf("explain: %v", err)
	}
	if !strings.Contains(gen.user, "Query: Section 498A IPC") || !strings.Contains(gen.user, "Recent amendments") {
		t.Fatalf("unexpected prompt %q", gen.user)
	}
}

func TestFailuresBecomeGenerationErrors(t *testing.T) {
	boom := errors.New("provider unavailable")
	cases := map[string]*fakeGenerator{
		"provider": {err: boom},
		"empty":    {reply: " \n "},
		"timeout":  {block: true},
	}
	for name, gen := range cases {
		engine, _ := NewEngine(gen, Config{Timeout: 20 * time.Millisecond})
		_, err := engine.ExplainLawQuery(context.Background(), "q")
		var genErr *GenerationError
		if !errors.As(err, &genErr) {
			t.Fatalf("%s: expected GenerationError, got %v", name, err)
		}
		switch name {
		case "provider":
			if !errors.Is(err, boom) {
				t.Fatalf("provider error not wrapped: %v", err)
			}
		case "empty":
			if !errors.Is(err, ErrEmptyResponse) {
				t.Fatalf("expected ErrEmptyResponse, got %v", err)
			}
		case "timeout":
			if !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("expected deadline exceeded, got %v", err)
			}
		}
	}
}

func TestThrottleGivesUpWhenDeadlineTooShort(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	engine, _ := NewEngine(gen, Config{Timeout: 50 * time.Millisecond, RequestsPerSecond: 0.1})
	if _, err := engine.ExplainLawQuery(context.Background(), "first"); err != nil {
		t.Fatalf("first call should use the burst: %v", err)
	}
	_, err := engine.ExplainLawQuery(context.Background(), "second")
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected throttled call to fail within its deadline, got %v", err)
	}
}
