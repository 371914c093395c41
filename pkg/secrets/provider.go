package secrets

import "context"

// Provider fetches a named secret as a flat key-value map.
// AWS Secrets Manager is the production implementation; tests use in-memory fakes.
type Provider interface {
	GetSecret(ctx context.Context, name string) (map[string]string, error)
}
