// Package auth provides the cached Azure DevOps access token provider.
//
// Tokens come from a pluggable credential source (by default the Azure CLI
// via azidentity). The provider caches the token until five minutes before
// expiry, coalesces concurrent acquisitions onto a single in-flight request,
// and retries transient failures with exponential backoff.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/crestline/adowork/internal/retry"
)

// safetyMargin is subtracted from the token expiry when deciding staleness:
// a token within five minutes of expiring is treated as stale.
const safetyMargin = 5 * time.Minute

// Token is an access token with its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenInfo is the introspection view of the cache.
type TokenInfo struct {
	ExpiresIn time.Duration `json:"expiresIn"`
	IsCached  bool          `json:"isCached"`
}

// CredentialSource acquires a fresh token. Implementations may invoke
// external processes; the provider never holds its lock across this call.
type CredentialSource func(ctx context.Context) (Token, error)

// Provider caches tokens from a CredentialSource.
type Provider struct {
	source     CredentialSource
	retryConf  retry.Config
	logger     *slog.Logger
	onAcquired func(outcome string)

	mu     sync.Mutex
	cached *Token

	group singleflight.Group

	// now is replaceable in tests.
	now func() time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithRetryConfig overrides the transient-failure retry policy.
func WithRetryConfig(cfg retry.Config) Option {
	return func(p *Provider) { p.retryConf = cfg }
}

// WithLogger sets the provider logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) { p.logger = logger.With("component", "auth") }
}

// WithAcquisitionObserver registers a callback invoked with "success",
// "error", or "cached" after each GetToken.
func WithAcquisitionObserver(fn func(outcome string)) Option {
	return func(p *Provider) { p.onAcquired = fn }
}

// NewProvider creates a provider over the given credential source.
func NewProvider(source CredentialSource, opts ...Option) *Provider {
	p := &Provider{
		source:    source,
		retryConf: retry.DefaultConfig(),
		logger:    slog.Default().With("component", "auth"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetToken returns a cached token when fresh, otherwise acquires one.
// Concurrent callers during acquisition coalesce onto a single in-flight
// request; all receive the same token or the same error.
func (p *Provider) GetToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.cached != nil && p.now().Add(safetyMargin).Before(p.cached.ExpiresAt) {
		token := p.cached.Value
		p.mu.Unlock()
		p.observe("cached")
		return token, nil
	}
	p.mu.Unlock()

	// The lock is not held across the credential-source call; singleflight
	// installs the in-flight result that late arrivals await.
	v, err, _ := p.group.Do("token", func() (any, error) {
		return p.acquire(ctx)
	})
	if err != nil {
		p.observe("error")
		return "", err
	}
	p.observe("success")
	return v.(Token).Value, nil
}

// acquire invokes the credential source with retry for transient classes
// and stores the result in the cache.
func (p *Provider) acquire(ctx context.Context) (Token, error) {
	token, err := retry.DoWithValue(ctx, p.retryConf, func() (Token, error) {
		t, srcErr := p.source(ctx)
		if srcErr == nil {
			return t, nil
		}
		class := Classify(srcErr)
		wrapped := &ClassifiedError{Class: class, Err: srcErr}
		if !class.Retryable {
			return Token{}, retry.Permanent(wrapped)
		}
		p.logger.Warn("transient token acquisition failure",
			"code", class.Code,
			"error", srcErr)
		return Token{}, wrapped
	})
	if err != nil {
		return Token{}, fmt.Errorf("acquire token: %w", err)
	}

	p.mu.Lock()
	p.cached = &token
	p.mu.Unlock()

	p.logger.Debug("token acquired", "expires_at", token.ExpiresAt)
	return token, nil
}

// ClearCache drops the cached token; the next GetToken acquires anew.
func (p *Provider) ClearCache() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}

// GetTokenInfo returns cache introspection, or nil when nothing is cached.
func (p *Provider) GetTokenInfo() *TokenInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached == nil {
		return nil
	}
	return &TokenInfo{
		ExpiresIn: p.cached.ExpiresAt.Sub(p.now()),
		IsCached:  true,
	}
}

func (p *Provider) observe(outcome string) {
	if p.onAcquired != nil {
		p.onAcquired(outcome)
	}
}
