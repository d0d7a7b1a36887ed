package ai

import (
	"context"
	"strings"
	"unicode/utf8"
)

const echoMaxRunes = 2000

// EchoGenerator is an offline TextGenerator for local runs and tests. It
// answers with a fixed prefix followed by the (truncated) user prompt.
type EchoGenerator struct {
	Prefix string
}

// NewEchoGenerator returns an EchoGenerator with the default prefix.
func NewEchoGenerator() *EchoGenerator {
	return &EchoGenerator{Prefix: "[offline model] "}
}

func (g *EchoGenerator) GenerateText(ctx context.Context, _, userPrompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body := strings.TrimSpace(userPrompt)
	if utf8.RuneCountInString(body) > echoMaxRunes {
		body = string([]rune(body)[:echoMaxRunes])
	}
	return g.Prefix + body, nil
}
