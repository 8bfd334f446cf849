// Package personalize is the optional AI copy-generation port. The executor
// falls back to plain template substitution when no generator is configured
// or a generation attempt fails.
package personalize

import (
	"context"

	"github.com/outboundlab/sequencer/internal/domain"
)

// Input carries the template text and lead context for one generation call.
type Input struct {
	Subject string
	Body    string
	Lead    *domain.Lead
}

// Output is the generated copy. Empty fields mean "keep the template text".
type Output struct {
	Subject string
	Body    string
}

// Generator produces lead-specific email copy from a step template.
type Generator interface {
	Generate(ctx context.Context, in Input) (*Output, error)
}
