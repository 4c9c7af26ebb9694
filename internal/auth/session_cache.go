package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/casedesk/internal/cache"
	"github.com/charlesng35/casedesk/internal/models"
)

const sessionCacheKeyPrefix = "auth:sessions:refresh:"

// cachedSession mirrors models.Session with the token digest included, which
// the model hides from JSON.
type cachedSession struct {
	models.Session
	TokenHash string `json:"token_hash"`
}

// NewSessionCache keeps sessions in the shared store, keyed by refresh token
// digest. It returns nil when store is nil.
func NewSessionCache(store cache.Store) SessionCache {
	if store == nil {
		return nil
	}
	return &sessionStoreCache{store: store}
}

type sessionStoreCache struct {
	store cache.Store
}

func (c *sessionStoreCache) Get(ctx context.Context, tokenHash string) (*models.Session, error) {
	key := sessionCacheKey(tokenHash)
	if key == "" {
		return nil, errSessionCacheMiss
	}

	data, found, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errSessionCacheMiss
	}

	var entry cachedSession
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("session cache: decode: %w", err)
	}
	entry.Session.RefreshToken = entry.TokenHash
	return &entry.Session, nil
}

func (c *sessionStoreCache) Set(ctx context.Context, session *models.Session, ttl time.Duration) error {
	if session == nil {
		return errors.New("session cache: session is nil")
	}
	key := sessionCacheKey(session.RefreshToken)
	if key == "" {
		return errors.New("session cache: refresh token missing")
	}

	payload, err := json.Marshal(cachedSession{Session: *session, TokenHash: session.RefreshToken})
	if err != nil {
		return fmt.Errorf("session cache: marshal: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return c.store.Set(ctx, key, payload, ttl)
}

func (c *sessionStoreCache) Delete(ctx context.Context, tokenHash string) error {
	key := sessionCacheKey(tokenHash)
	if key == "" {
		return nil
	}
	return c.store.Delete(ctx, key)
}

func sessionCacheKey(tokenHash string) string {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return ""
	}
	return sessionCacheKeyPrefix + tokenHash
}
