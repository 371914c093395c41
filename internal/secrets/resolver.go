package secrets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/avalanche-app/rockclient/internal/metrics"
	"github.com/avalanche-app/rockclient/pkg/model"
	pkgsecrets "github.com/avalanche-app/rockclient/pkg/secrets"
)

// ClientResolver returns the client identity sent to the token and resource endpoints.
type ClientResolver interface {
	Resolve(ctx context.Context) (model.ClientCredentials, error)
}

// StaticResolver serves credentials taken from configuration.
type StaticResolver struct {
	creds model.ClientCredentials
}

// NewStaticResolver wraps a fixed client id/secret pair.
func NewStaticResolver(clientID, clientSecret string) *StaticResolver {
	return &StaticResolver{creds: model.ClientCredentials{ClientID: clientID, ClientSecret: clientSecret}}
}

func (r *StaticResolver) Resolve(context.Context) (model.ClientCredentials, error) {
	return r.creds, nil
}

// AWSResolver resolves the client identity from a single AWS Secrets Manager secret,
// caching the parsed pair locally to keep the request path off the AWS API.
type AWSResolver struct {
	logger     *zap.Logger
	secretName string
	provider   pkgsecrets.Provider
	cache      *pkgsecrets.Cache[model.ClientCredentials]
}

// NewAWSResolver constructs a resolver for the secret named secretName.
func NewAWSResolver(
	logger *zap.Logger,
	secretName string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[model.ClientCredentials],
) *AWSResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AWSResolver{
		logger:     logger,
		secretName: secretName,
		provider:   provider,
		cache:      cache,
	}
}

// Resolve returns the cached pair or fetches and parses the secret.
func (r *AWSResolver) Resolve(ctx context.Context) (model.ClientCredentials, error) {
	creds, hit, err := r.cache.GetOrLoad(ctx, r.secretName, r.load)
	if hit {
		metrics.IncSecretsCache("hit")
		return creds, nil
	}
	metrics.IncSecretsCache("miss")
	return creds, err
}

func (r *AWSResolver) load(ctx context.Context) (model.ClientCredentials, error) {
	secretMap, err := r.provider.GetSecret(ctx, r.secretName)
	if err != nil {
		r.logger.Warn("aws.secret_fetch_failed",
			zap.String("key", r.secretName),
			zap.Error(err))
		return model.ClientCredentials{}, fmt.Errorf("resolve client credentials: %w", err)
	}

	creds, err := parseClientCredentials(secretMap)
	if err != nil {
		return model.ClientCredentials{}, fmt.Errorf("parse secret %q: %w", r.secretName, err)
	}

	r.logger.Info("aws.client_credentials_resolved", zap.String("key", r.secretName))
	return creds, nil
}

// Invalidate drops the cached pair so the next Resolve reads the secret again.
func (r *AWSResolver) Invalidate() {
	r.cache.Bust(r.secretName)
}

func parseClientCredentials(m map[string]string) (model.ClientCredentials, error) {
	creds := model.ClientCredentials{
		ClientID:     strings.TrimSpace(m["client_id"]),
		ClientSecret: strings.TrimSpace(m["client_secret"]),
	}
	if creds.ClientID == "" {
		return model.ClientCredentials{}, fmt.Errorf("missing client_id")
	}
	return creds, nil
}
