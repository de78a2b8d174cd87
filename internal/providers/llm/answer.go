package llm

import (
	"context"
	"strings"
)

// FullAnswer drains a streamed answer into one string. Used where the
// caller wants the complete text (question generation, analysis)
// rather than incremental chunks.
func FullAnswer(ctx context.Context, p Provider, prompt string) (string, error) {
	chunks, errs := p.StreamAnswer(ctx, prompt)

	var b strings.Builder
	for chunk := range chunks {
		b.WriteString(chunk)
	}

	select {
	case err := <-errs:
		if err != nil {
			return "", err
		}
	default:
	}
	return strings.TrimSpace(b.String()), nil
}
