package teller

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"bankfeed/internal/infrastructure/dedupe"
	"bankfeed/internal/infrastructure/ratelimit"
	"bankfeed/internal/infrastructure/respcache"
	"bankfeed/internal/shared/apperr"
)

var (
	gatewayTracer      = otel.Tracer("bankfeed/teller")
	gatewayMeter       = otel.Meter("bankfeed/teller")
	requestsCounter, _ = gatewayMeter.Int64Counter("teller.request.total",
		metric.WithDescription("Upstream fetches by outcome"),
	)
)

// Outcomes recorded on teller.request.total.
const (
	outcomeCacheHit     = "cache_hit"
	outcomeDeduplicated = "deduplicated"
	outcomeRateLimited  = "rate_limited"
	outcomeOK           = "ok"
	outcomeError        = "error"
)

// TTLs holds the cache lifetime per resource kind.
type TTLs struct {
	Accounts     time.Duration
	Transactions time.Duration
	Balances     time.Duration
	Details      time.Duration
}

// DefaultTTLs returns 5m accounts, 2m transactions, 1m balances, 30m details.
func DefaultTTLs() TTLs {
	return TTLs{
		Accounts:     5 * time.Minute,
		Transactions: 2 * time.Minute,
		Balances:     time.Minute,
		Details:      30 * time.Minute,
	}
}

// Gateway serves upstream reads through the cache, then the deduplicator,
// then the rate limiter. Only calls that reach the network consume quota.
type Gateway struct {
	client  ClientInterface
	cache   *respcache.Cache
	dedup   *dedupe.Deduplicator
	limiter *ratelimit.Limiter
	ttl     TTLs
}

// Ensure Gateway implements GatewayInterface
var _ GatewayInterface = (*Gateway)(nil)

// NewGateway wires the shared request-path state around client.
func NewGateway(client ClientInterface, cache *respcache.Cache, dedup *dedupe.Deduplicator, limiter *ratelimit.Limiter, ttl TTLs) *Gateway {
	return &Gateway{
		client:  client,
		cache:   cache,
		dedup:   dedup,
		limiter: limiter,
		ttl:     ttl,
	}
}

// FetchAccounts returns the accounts visible to token.
func (g *Gateway) FetchAccounts(ctx context.Context, userID int64, token string) ([]Account, error) {
	key := fmt.Sprintf("%saccounts:%s", userPrefix(userID), fingerprint(token))
	return fetch(ctx, g, userID, "accounts", key, g.ttl.Accounts, func(ctx context.Context) ([]Account, error) {
		return g.client.GetAccounts(ctx, token)
	})
}

// FetchTransactions returns the transactions of accountID within q.
func (g *Gateway) FetchTransactions(ctx context.Context, userID int64, token, accountID string, q TransactionQuery) ([]Transaction, error) {
	key := fmt.Sprintf("%s%s:%s:%s:%d",
		transactionsPrefix(userID, accountID), fingerprint(token),
		formatDate(q.FromDate), formatDate(q.ToDate), q.Count)
	return fetch(ctx, g, userID, "transactions", key, g.ttl.Transactions, func(ctx context.Context) ([]Transaction, error) {
		return g.client.GetTransactions(ctx, token, accountID, q)
	})
}

// FetchBalance returns the balances of accountID.
func (g *Gateway) FetchBalance(ctx context.Context, userID int64, token, accountID string) (*Balance, error) {
	key := balancePrefix(userID, accountID) + fingerprint(token)
	return fetch(ctx, g, userID, "balance", key, g.ttl.Balances, func(ctx context.Context) (*Balance, error) {
		return g.client.GetBalance(ctx, token, accountID)
	})
}

// FetchAccountDetails returns the account and routing numbers of accountID.
func (g *Gateway) FetchAccountDetails(ctx context.Context, userID int64, token, accountID string) (*AccountDetails, error) {
	key := fmt.Sprintf("%sdetails:%s:%s", userPrefix(userID), accountID, fingerprint(token))
	return fetch(ctx, g, userID, "details", key, g.ttl.Details, func(ctx context.Context) (*AccountDetails, error) {
		return g.client.GetAccountDetails(ctx, token, accountID)
	})
}

// InvalidateUser drops every cached response of userID.
func (g *Gateway) InvalidateUser(userID int64) int {
	return g.cache.Invalidate(userPrefix(userID))
}

// InvalidateBalance drops the cached balance of one account.
func (g *Gateway) InvalidateBalance(userID int64, accountID string) int {
	return g.cache.Invalidate(balancePrefix(userID, accountID))
}

// InvalidateTransactions drops every cached transaction page of one account.
func (g *Gateway) InvalidateTransactions(userID int64, accountID string) int {
	return g.cache.Invalidate(transactionsPrefix(userID, accountID))
}

func fetch[T any](ctx context.Context, g *Gateway, userID int64, resource, key string, ttl time.Duration, call func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	ctx, span := gatewayTracer.Start(ctx, "teller."+resource)
	defer span.End()
	span.SetAttributes(
		attribute.Int64("user.id", userID),
		attribute.String("teller.resource", resource),
	)

	if cached, ok := g.cache.Get(key, ttl); ok {
		if v, ok := cached.(T); ok {
			record(ctx, resource, outcomeCacheHit)
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return v, nil
		}
	}

	v, shared, err := g.dedup.Run(ctx, key, func(ctx context.Context) (any, error) {
		release, err := g.limiter.Admit(userID)
		if err != nil {
			return nil, err
		}
		defer release()

		result, err := call(ctx)
		if err != nil {
			return nil, err
		}
		g.cache.Put(key, result)
		return result, nil
	})
	if err != nil {
		outcome := outcomeError
		if apperr.IsKind(err, apperr.KindRateLimited) {
			outcome = outcomeRateLimited
		}
		record(ctx, resource, outcome)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Printf("User %d: upstream %s failed: %v", userID, resource, err)
		return zero, err
	}

	if shared {
		record(ctx, resource, outcomeDeduplicated)
	} else {
		record(ctx, resource, outcomeOK)
	}

	result, ok := v.(T)
	if !ok {
		return zero, apperr.New(apperr.KindInternal, "teller.fetch", fmt.Sprintf("unexpected %T for %s", v, resource))
	}
	return result, nil
}

func record(ctx context.Context, resource, outcome string) {
	requestsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("teller.resource", resource),
		attribute.String("outcome", outcome),
	))
}

// Cache keys start with the user so one user's state can be purged by prefix,
// and account-scoped keys put the account id before the token fingerprint so
// one account's entries can be purged by substring.
func userPrefix(userID int64) string {
	return fmt.Sprintf("user:%d:", userID)
}

func balancePrefix(userID int64, accountID string) string {
	return fmt.Sprintf("%sbalance:%s:", userPrefix(userID), accountID)
}

func transactionsPrefix(userID int64, accountID string) string {
	return fmt.Sprintf("%stransactions:%s:", userPrefix(userID), accountID)
}

// fingerprint identifies a token in cache keys and logs without revealing it.
func fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

// Fingerprint is exported for log lines outside the package.
func Fingerprint(token string) string {
	return fingerprint(token)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(dateLayout)
}
