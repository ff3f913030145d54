// Package movecache remembers engine answers per position in redis and
// replays them before asking the engine again.
package movecache

import (
	"context"
	"sync"
	"time"

	"github.com/park285/cheese-duel/internal/chess/uci"
	"github.com/park285/cheese-duel/internal/domain"
	"github.com/park285/cheese-duel/internal/obslog"
	"go.uber.org/zap"
)

const defaultRedisTimeout = 250 * time.Millisecond

// Engine is the move source being decorated.
type Engine interface {
	RequestMove(boardToken string, depth int, cb func(domain.Move, error)) error
	Terminate() error
}

// CachedEngine keeps the one-search-at-a-time contract of the wrapped engine.
type CachedEngine struct {
	inner   Engine
	store   *Store
	skill   int
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	inflight bool
	closed   bool
}

func Wrap(inner Engine, store *Store, skill int) *CachedEngine {
	return &CachedEngine{
		inner:   inner,
		store:   store,
		skill:   skill,
		timeout: defaultRedisTimeout,
		logger:  obslog.L().Named("movecache"),
	}
}

func (c *CachedEngine) RequestMove(boardToken string, depth int, cb func(domain.Move, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return uci.ErrSessionClosed
	}
	if c.inflight {
		return uci.ErrSearchInFlight
	}
	c.inflight = true
	go c.resolve(boardToken, depth, cb)
	return nil
}

func (c *CachedEngine) resolve(token string, depth int, cb func(domain.Move, error)) {
	if mv, ok := c.lookup(token, depth); ok {
		c.done()
		cb(mv, nil)
		return
	}
	err := c.inner.RequestMove(token, depth, func(mv domain.Move, err error) {
		if err == nil {
			c.remember(token, depth, mv)
		}
		c.done()
		cb(mv, err)
	})
	if err != nil {
		c.done()
		cb(domain.Move{}, err)
	}
}

func (c *CachedEngine) lookup(token string, depth int) (domain.Move, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	entry, err := c.store.Load(ctx, token, c.skill, depth)
	if err != nil {
		c.logger.Warn("movecache_load_failed", zap.Error(err))
		return domain.Move{}, false
	}
	if entry == nil {
		return domain.Move{}, false
	}
	mv, err := uci.ParseMoveToken(entry.Move)
	if err != nil {
		c.logger.Warn("movecache_entry_invalid", zap.String("move", entry.Move), zap.Error(err))
		return domain.Move{}, false
	}
	c.logger.Debug("movecache_hit", zap.String("move", entry.Move), zap.Int("depth", depth))
	return mv, true
}

func (c *CachedEngine) remember(token string, depth int, mv domain.Move) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	err := c.store.Save(ctx, token, Entry{
		Move:     uci.EncodeMoveToken(mv),
		Skill:    c.skill,
		Depth:    depth,
		StoredAt: time.Now().UTC(),
	})
	if err != nil {
		c.logger.Warn("movecache_save_failed", zap.Error(err))
	}
}

func (c *CachedEngine) done() {
	c.mu.Lock()
	c.inflight = false
	c.mu.Unlock()
}

func (c *CachedEngine) Terminate() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.inner.Terminate()
}
