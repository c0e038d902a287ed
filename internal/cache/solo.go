// Package cache keeps a Redis sorted set of solo-game scores so rank lookups stay
// O(log n) no matter how many solo games the store holds.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/hueduel/internal/store"
)

const (
	soloKey    = "hueduel:solo:scores"
	rebuildKey = soloKey + ":rebuild"
	zaddBatch  = 1000
)

// SoloRanks answers rank queries from Redis and falls back to the store when no
// Redis client is configured or the index cannot be trusted. The store is the source
// of truth; the sorted set is rebuilt from it whenever it may have drifted.
type SoloRanks struct {
	client *redis.Client
	store  store.Store
	// stale is set until the index has been rebuilt, and again after any failed
	// index write.
	stale atomic.Bool
	saves atomic.Int64
}

// NewSoloRanks accepts a nil client.
func NewSoloRanks(client *redis.Client, s store.Store) *SoloRanks {
	c := &SoloRanks{client: client, store: s}
	c.stale.Store(true)
	return c
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Rebuild replaces the sorted set with every solo game in the store. The new set is
// built under a scratch key and renamed over the live one.
func (c *SoloRanks) Rebuild(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	gen := c.saves.Load()
	scores, err := c.store.SoloScores(ctx)
	if err != nil {
		c.stale.Store(true)
		return fmt.Errorf("load solo scores: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, rebuildKey)
	batch := make([]redis.Z, 0, zaddBatch)
	for id, score := range scores {
		batch = append(batch, redis.Z{Score: float64(score), Member: id})
		if len(batch) == zaddBatch {
			pipe.ZAdd(ctx, rebuildKey, batch...)
			batch = make([]redis.Z, 0, zaddBatch)
		}
	}
	if len(batch) > 0 {
		pipe.ZAdd(ctx, rebuildKey, batch...)
	}
	if len(scores) > 0 {
		pipe.Rename(ctx, rebuildKey, soloKey)
	} else {
		pipe.Del(ctx, soloKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.stale.Store(true)
		return fmt.Errorf("rebuild solo index: %w", err)
	}
	// A save that raced the rebuild may be missing from the new set.
	c.stale.Store(c.saves.Load() != gen)
	log.Info().Int("games", len(scores)).Msg("solo rank index rebuilt")
	return nil
}

// Save persists the game and indexes its score.
func (c *SoloRanks) Save(ctx context.Context, g *store.SoloGame) error {
	if err := c.store.SaveSoloGame(ctx, g); err != nil {
		return err
	}
	if c.client == nil {
		return nil
	}
	c.saves.Add(1)
	if err := c.client.ZAdd(ctx, soloKey, redis.Z{Score: float64(g.TotalScore), Member: g.ID}).Err(); err != nil {
		c.stale.Store(true)
		log.Warn().Err(err).Str("game", g.ID).Msg("solo rank index update failed")
	}
	return nil
}

// Rank is the 1-based position score would take among all solo games.
func (c *SoloRanks) Rank(ctx context.Context, score int) (rank, total int, err error) {
	if c.client != nil && c.ready(ctx) {
		better, err1 := c.client.ZCount(ctx, soloKey, "("+strconv.Itoa(score), "+inf").Result()
		count, err2 := c.client.ZCard(ctx, soloKey).Result()
		if err1 == nil && err2 == nil {
			return int(better) + 1, int(count), nil
		}
		c.stale.Store(true)
		log.Warn().AnErr("count", err1).AnErr("card", err2).Msg("solo rank from redis failed, using store")
	}
	return c.store.SoloRank(ctx, score)
}

// ready rebuilds a stale index and reports whether Redis can be read.
func (c *SoloRanks) ready(ctx context.Context) bool {
	if !c.stale.Load() {
		return true
	}
	if err := c.Rebuild(ctx); err != nil {
		log.Warn().Err(err).Msg("solo rank index unavailable, using store")
		return false
	}
	return true
}

// Top lists the best solo games. Usernames live in the store, so it always reads there.
func (c *SoloRanks) Top(ctx context.Context, limit int) ([]*store.SoloGame, error) {
	return c.store.SoloRankings(ctx, limit)
}
