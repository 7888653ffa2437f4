package patterns

import (
	"context"

	"github.com/miradorstack/mirador-investigator/internal/models"
)

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, service string, patterns []models.FailurePattern) error

// StorePatterns implements Store.
func (f StoreFunc) StorePatterns(ctx context.Context, service string, patterns []models.FailurePattern) error {
	return f(ctx, service, patterns)
}
