// Package tokencache implements the Token Cache (spec §4.2, C2): a
// process-wide, drive-config-keyed store of access/refresh token pairs with
// early-expiry renewal and mutual exclusion around the refresh path.
//
// Grounded on the teacher's internal/tokenfile (atomic temp-file-then-rename
// persistence) and auth.go's per-drive token addressing, adapted from a
// flat JSON file per canonical-ID to a single bbolt database keyed by
// drive-config id — the spec's "on-disk configuration and catalogue
// database...is a generic keyed store" clause left the concrete store
// unspecified, so bbolt stands in here as teacher's modernc.org/sqlite
// counterpart for this component's simpler key/value access pattern.
package tokencache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// earlyRenewal is how long before actual expiry a cached token is treated as
// stale, per spec §4.2 ("cached for expires_in - 5 minutes of wall time").
const earlyRenewal = 5 * time.Minute

var tokensBucket = []byte("tokens")

// Token is a cached access/refresh token pair for one drive config.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"` // actual wall-clock expiry, not the early-renewal point
}

// validAt reports whether the token is still usable at t, applying the
// early-renewal margin.
func (tok Token) validAt(t time.Time) bool {
	return tok.AccessToken != "" && t.Before(tok.ExpiresAt.Add(-earlyRenewal))
}

// Exchanger performs the refresh-token exchange (spec §6): given a refresh
// token, returns a fresh access token, its lifetime, and the (possibly
// rotated) refresh token to store going forward. Implemented by driveapi.
type Exchanger interface {
	ExchangeRefreshToken(ctx context.Context, baseURL, refreshToken string) (accessToken string, expiresIn time.Duration, nextRefreshToken string, err error)
}

// Cache is the process-wide token store. One Cache instance is shared across
// every configured drive; refreshes for distinct drive-config ids proceed
// concurrently, but two goroutines racing to refresh the SAME id are
// serialized onto a single exchange per spec §4.2's "mutual exclusion is
// required across the refresh path to avoid duplicate refreshes."
type Cache struct {
	db     *bolt.DB
	logger *slog.Logger

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	memhits map[string]Token // in-process copy to skip a bolt read on the common path
}

// Open opens (creating if necessary) the bbolt database at path and returns
// a ready-to-use Cache.
func Open(path string, logger *slog.Logger) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("tokencache: opening %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(tokensBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("tokencache: initializing bucket: %w", err)
	}

	return &Cache{
		db:      db,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
		memhits: make(map[string]Token),
	}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// lockFor returns the per-drive-config mutex, creating it on first use.
func (c *Cache) lockFor(driveConfigID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.locks[driveConfigID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[driveConfigID] = l
	}

	return l
}

// GetAccessToken returns a still-valid access token for driveConfigID,
// refreshing it through exchanger if the cached one is absent or within
// earlyRenewal of expiring. seedRefreshToken is used to bootstrap the very
// first exchange when no cached token exists yet (sourced from config).
func (c *Cache) GetAccessToken(ctx context.Context, driveConfigID, baseURL, seedRefreshToken string, exchanger Exchanger) (string, error) {
	lock := c.lockFor(driveConfigID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()

	if tok, ok := c.memhits[driveConfigID]; ok && tok.validAt(now) {
		return tok.AccessToken, nil
	}

	tok, err := c.load(driveConfigID)
	if err != nil {
		return "", err
	}

	if tok != nil && tok.validAt(now) {
		c.memhits[driveConfigID] = *tok
		return tok.AccessToken, nil
	}

	refreshToken := seedRefreshToken
	if tok != nil && tok.RefreshToken != "" {
		refreshToken = tok.RefreshToken
	}

	if refreshToken == "" {
		return "", fmt.Errorf("tokencache: no refresh token available for drive %q", driveConfigID)
	}

	c.logger.Debug("refreshing access token", "drive_config_id", driveConfigID)

	accessToken, expiresIn, nextRefreshToken, err := exchanger.ExchangeRefreshToken(ctx, baseURL, refreshToken)
	if err != nil {
		return "", fmt.Errorf("tokencache: refreshing token for drive %q: %w", driveConfigID, err)
	}

	if nextRefreshToken == "" {
		nextRefreshToken = refreshToken
	}

	fresh := Token{
		AccessToken:  accessToken,
		RefreshToken: nextRefreshToken,
		ExpiresAt:    now.Add(expiresIn),
	}

	if err := c.store(driveConfigID, fresh); err != nil {
		return "", err
	}

	c.memhits[driveConfigID] = fresh

	return fresh.AccessToken, nil
}

// Invalidate drops any cached token for driveConfigID, forcing the next
// GetAccessToken call to refresh. Used after a 401 that survives retry.
func (c *Cache) Invalidate(driveConfigID string) {
	lock := c.lockFor(driveConfigID)
	lock.Lock()
	defer lock.Unlock()

	delete(c.memhits, driveConfigID)
}

func (c *Cache) load(driveConfigID string) (*Token, error) {
	var tok *Token

	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(tokensBucket)

		data := b.Get([]byte(driveConfigID))
		if data == nil {
			return nil
		}

		var t Token
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("decoding cached token: %w", err)
		}

		tok = &t

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("tokencache: loading token for drive %q: %w", driveConfigID, err)
	}

	return tok, nil
}

func (c *Cache) store(driveConfigID string, tok Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("tokencache: encoding token: %w", err)
	}

	err = c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(tokensBucket)
		return b.Put([]byte(driveConfigID), data)
	})
	if err != nil {
		return fmt.Errorf("tokencache: storing token for drive %q: %w", driveConfigID, err)
	}

	return nil
}

// ErrNoToken is returned by callers that need to distinguish "never
// authenticated" from a transient refresh failure.
var ErrNoToken = errors.New("tokencache: no token cached")
