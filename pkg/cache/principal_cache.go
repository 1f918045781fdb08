// Package cache keeps resolved access-token principals in Redis so the
// dispatch API does not hit Postgres on every request.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

const (
	keyPrefix     = "ekaya-connect:access-token:"
	currentPrefix = "ekaya-connect:access-token-current:"
)

// PrincipalCache maps access-token hashes to principals.
// Implementations must treat backend failures as misses, never as authentication failures.
//
// Each member also has a current-token record. A cached principal is only served while its
// hash is the member's current one, so a lookup that raced a regeneration cannot revive the
// old token.
type PrincipalCache interface {
	Get(ctx context.Context, tokenHash string) (*models.AccessPrincipal, bool)
	Set(ctx context.Context, tokenHash string, principal *models.AccessPrincipal)
	// Rotate makes newHash the member's current token and drops oldHash.
	// An error means the current-token record was not written.
	Rotate(ctx context.Context, organisationID int64, userID uuid.UUID, oldHash, newHash string) error
}

// kv is the subset of *redis.Client the cache uses.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisPrincipalCache struct {
	client kv
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisPrincipalCache creates a cache backed by client. A nil client yields a no-op cache.
func NewRedisPrincipalCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) PrincipalCache {
	if client == nil {
		return NoopPrincipalCache{}
	}
	return newRedisPrincipalCache(client, ttl, logger)
}

func newRedisPrincipalCache(client kv, ttl time.Duration, logger *zap.Logger) *redisPrincipalCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &redisPrincipalCache{client: client, ttl: ttl, logger: logger.Named("principal-cache")}
}

type cachedPrincipal struct {
	UserID           string `json:"user_id"`
	OrganisationID   int64  `json:"organisation_id"`
	OrganisationUUID string `json:"organisation_uuid"`
}

func currentKey(organisationID int64, userID uuid.UUID) string {
	return fmt.Sprintf("%s%d:%s", currentPrefix, organisationID, userID)
}

// currentTTL outlives every principal entry so a stale entry never sees an expired record.
func (c *redisPrincipalCache) currentTTL() time.Duration {
	return 2 * c.ttl
}

func (c *redisPrincipalCache) Get(ctx context.Context, tokenHash string) (*models.AccessPrincipal, bool) {
	raw, err := c.client.Get(ctx, keyPrefix+tokenHash).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Principal cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var cp cachedPrincipal
	if err := json.Unmarshal(raw, &cp); err != nil {
		c.logger.Warn("Discarding malformed principal cache entry", zap.Error(err))
		return nil, false
	}
	p, err := cp.principal()
	if err != nil {
		c.logger.Warn("Discarding malformed principal cache entry", zap.Error(err))
		return nil, false
	}

	current, err := c.client.Get(ctx, currentKey(p.OrganisationID, p.UserID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Principal cache read failed", zap.Error(err))
		}
		return nil, false
	}
	if current != tokenHash {
		c.client.Del(ctx, keyPrefix+tokenHash)
		return nil, false
	}
	return p, true
}

func (c *redisPrincipalCache) Set(ctx context.Context, tokenHash string, principal *models.AccessPrincipal) {
	raw, err := json.Marshal(cachedPrincipal{
		UserID:           principal.UserID.String(),
		OrganisationID:   principal.OrganisationID,
		OrganisationUUID: principal.OrganisationUUID.String(),
	})
	if err != nil {
		return
	}
	// Only claims the current-token record when no rotation has written one.
	key := currentKey(principal.OrganisationID, principal.UserID)
	if err := c.client.SetNX(ctx, key, tokenHash, c.currentTTL()).Err(); err != nil {
		c.logger.Warn("Principal cache write failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, keyPrefix+tokenHash, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("Principal cache write failed", zap.Error(err))
	}
}

func (c *redisPrincipalCache) Rotate(ctx context.Context, organisationID int64, userID uuid.UUID, oldHash, newHash string) error {
	if err := c.client.Set(ctx, currentKey(organisationID, userID), newHash, c.currentTTL()).Err(); err != nil {
		return fmt.Errorf("failed to record current access token: %w", err)
	}
	if oldHash != "" {
		if err := c.client.Del(ctx, keyPrefix+oldHash).Err(); err != nil {
			c.logger.Warn("Principal cache delete failed", zap.Error(err))
		}
	}
	return nil
}

func (cp cachedPrincipal) principal() (*models.AccessPrincipal, error) {
	userID, err := uuid.Parse(cp.UserID)
	if err != nil {
		return nil, fmt.Errorf("user_id: %w", err)
	}
	orgUUID, err := uuid.Parse(cp.OrganisationUUID)
	if err != nil {
		return nil, fmt.Errorf("organisation_uuid: %w", err)
	}
	return &models.AccessPrincipal{
		UserID:           userID,
		OrganisationID:   cp.OrganisationID,
		OrganisationUUID: orgUUID,
	}, nil
}

// NoopPrincipalCache is used when Redis is not configured.
type NoopPrincipalCache struct{}

func (NoopPrincipalCache) Get(context.Context, string) (*models.AccessPrincipal, bool) { return nil, false }
func (NoopPrincipalCache) Set(context.Context, string, *models.AccessPrincipal)        {}
func (NoopPrincipalCache) Rotate(context.Context, int64, uuid.UUID, string, string) error {
	return nil
}

var (
	_ PrincipalCache = (*redisPrincipalCache)(nil)
	_ PrincipalCache = NoopPrincipalCache{}
)
