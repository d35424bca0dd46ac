// Package placement decides where inside an entity's body a new image block
// should go. The model strategy asks the text-generation capability; the
// heuristic is the deterministic fallback and never fails.
package placement

import (
	"context"
	"regexp"
	"strings"

	"enricher/internal/domain"
)

// Position is an insertion point among block-level content units.
// AfterBlock is the index of the block the image goes after; -1 prepends.
type Position struct {
	AfterBlock int
}

// Prepend is the sentinel position used when no block can anchor the image.
var Prepend = Position{AfterBlock: -1}

// Strategy chooses a Position for an image inside the entity's blocks.
type Strategy interface {
	Choose(ctx context.Context, entity domain.Entity, blocks []string) (Position, error)
}

// Heuristic is the deterministic fallback rule: early in the body, but after
// the opening has had a chance to breathe.
type Heuristic struct{}

// Choose never fails and always returns an in-range position.
func (Heuristic) Choose(ctx context.Context, entity domain.Entity, blocks []string) (Position, error) {
	return Fallback(blocks), nil
}

// Fallback applies the heuristic rule directly: with more than two blocks the
// image goes after the second block, with at least one block after the first,
// and with an empty body it prepends.
func Fallback(blocks []string) Position {
	switch {
	case len(blocks) > 2:
		return Position{AfterBlock: 1}
	case len(blocks) >= 1:
		return Position{AfterBlock: 0}
	default:
		return Prepend
	}
}

// Clamp forces a position into the valid range for the given block count.
func Clamp(pos Position, blockCount int) Position {
	if pos.AfterBlock < 0 {
		return Prepend
	}
	if pos.AfterBlock >= blockCount {
		pos.AfterBlock = blockCount - 1
	}
	return pos
}

var blockEndRe = regexp.MustCompile(`(?i)</(?:p|h[1-6]|ul|ol|blockquote|pre|figure|table)>`)

// SplitBlocks breaks body markup into block-level units. HTML bodies split on
// closing block tags; plain text falls back to blank-line paragraphs.
func SplitBlocks(content string) []string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil
	}
	if locs := blockEndRe.FindAllStringIndex(trimmed, -1); len(locs) > 0 {
		var blocks []string
		prev := 0
		for _, loc := range locs {
			if block := strings.TrimSpace(trimmed[prev:loc[1]]); block != "" {
				blocks = append(blocks, block)
			}
			prev = loc[1]
		}
		if rest := strings.TrimSpace(trimmed[prev:]); rest != "" {
			blocks = append(blocks, rest)
		}
		return blocks
	}
	var blocks []string
	for _, part := range strings.Split(trimmed, "\n\n") {
		if block := strings.TrimSpace(part); block != "" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// InsertBlock rebuilds the body with markup inserted at pos. Positions past
// the end append.
func InsertBlock(blocks []string, pos Position, markup string) string {
	if len(blocks) == 0 {
		return markup
	}
	out := make([]string, 0, len(blocks)+1)
	if pos.AfterBlock < 0 {
		out = append(out, markup)
		out = append(out, blocks...)
		return strings.Join(out, "\n\n")
	}
	after := pos.AfterBlock
	if after >= len(blocks) {
		after = len(blocks) - 1
	}
	out = append(out, blocks[:after+1]...)
	out = append(out, markup)
	out = append(out, blocks[after+1:]...)
	return strings.Join(out, "\n\n")
}
