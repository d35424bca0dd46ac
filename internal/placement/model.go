package placement

import (
	"context"
	"fmt"
	"strings"

	"enricher/internal/domain"
	"enricher/internal/providers/textgen"
)

const (
	modelMaxTokens       = 256
	modelExcerptRunes    = 240
	modelMaxBlocksListed = 20
)

// ModelStrategy asks the text-generation capability to pick the block an
// image should follow. Any failure is the caller's cue to fall back to the
// heuristic; this strategy never partially applies.
type ModelStrategy struct {
	gen textgen.Generator
}

// NewModelStrategy wires the strategy to a text generator.
func NewModelStrategy(gen textgen.Generator) *ModelStrategy {
	return &ModelStrategy{gen: gen}
}

type placementDecision struct {
	AfterBlock int    `json:"after_block"`
	Reason     string `json:"reason"`
}

// Choose prompts the model with numbered block excerpts and decodes the JSON
// decision out of the noisy reply. The result is clamped into range.
func (s *ModelStrategy) Choose(ctx context.Context, entity domain.Entity, blocks []string) (Position, error) {
	if s == nil || s.gen == nil {
		return Prepend, fmt.Errorf("placement: no text generator configured")
	}
	if len(blocks) == 0 {
		return Prepend, nil
	}
	raw, err := s.gen.Generate(ctx, buildPlacementPrompt(entity.Title, blocks), modelMaxTokens)
	if err != nil {
		return Prepend, fmt.Errorf("placement: model call: %w", err)
	}
	decision, err := textgen.DecodeJSONPayload[placementDecision](raw)
	if err != nil {
		return Prepend, fmt.Errorf("placement: decode decision: %w", err)
	}
	return Clamp(Position{AfterBlock: decision.AfterBlock}, len(blocks)), nil
}

func buildPlacementPrompt(title string, blocks []string) string {
	sb := &strings.Builder{}
	sb.WriteString("You choose where an illustrative image belongs in an article. ")
	sb.WriteString(`Respond strictly with JSON matching {"after_block":number,"reason":string}. `)
	sb.WriteString("after_block is the zero-based index of the block the image should follow. ")
	fmt.Fprintf(sb, "Article title: %q. Blocks:\n", title)
	limit := min(len(blocks), modelMaxBlocksListed)
	for i := 0; i < limit; i++ {
		fmt.Fprintf(sb, "[%d] %s\n", i, excerpt(blocks[i]))
	}
	return sb.String()
}

func excerpt(block string) string {
	text := strings.Join(strings.Fields(stripTags(block)), " ")
	runes := []rune(text)
	if len(runes) <= modelExcerptRunes {
		return text
	}
	return string(runes[:modelExcerptRunes]) + "…"
}

func stripTags(s string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

var _ Strategy = (*ModelStrategy)(nil)
var _ Strategy = Heuristic{}
