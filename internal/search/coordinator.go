// Package search debounces recipient lookups for the new-conversation flow
// and publishes results on the bus.
package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskora/chatsync/internal/bus"
	"github.com/taskora/chatsync/internal/model"
)

// Searcher is the slice of the REST surface the coordinator uses.
type Searcher interface {
	SearchUsers(ctx context.Context, query string) ([]model.User, error)
}

// Results is the payload published under bus.KindSearchResults.
type Results struct {
	Query string
	Users []model.User
}

// Coordinator turns a stream of keystrokes into at most one in-flight user
// search. Each accepted query supersedes the previous one; a response for a
// superseded query is dropped.
type Coordinator struct {
	rest     Searcher
	bus      *bus.Bus
	logger   *zap.Logger
	debounce time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCoordinator creates a coordinator with the given debounce interval.
func NewCoordinator(rest Searcher, b *bus.Bus, debounce time.Duration, logger *zap.Logger) *Coordinator {
	return &Coordinator{rest: rest, bus: b, logger: logger, debounce: debounce}
}

// Start arms the coordinator. Queries set before Start are ignored.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctx, c.cancel = context.WithCancel(ctx)
}

// Stop cancels any in-flight search and disarms the debounce timer.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.ctx, c.cancel = nil, nil
	}
}

// SetQuery replaces the pending query. An empty query clears the results
// immediately without hitting the network.
func (c *Coordinator) SetQuery(query string) {
	query = strings.TrimSpace(query)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return
	}
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
	}
	if query == "" {
		c.timer = nil
		c.bus.Emit(bus.KindSearchResults, &Results{})
		return
	}
	gen := c.gen
	ctx := c.ctx
	c.timer = time.AfterFunc(c.debounce, func() {
		c.run(ctx, query, gen)
	})
}

func (c *Coordinator) run(ctx context.Context, query string, gen uint64) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	users, err := c.rest.SearchUsers(ctx, query)
	if err != nil {
		c.logger.Warn("user search failed", zap.Error(err), zap.String("query", query))
		return
	}

	c.mu.Lock()
	stale := c.gen != gen
	c.mu.Unlock()
	if stale {
		return
	}
	c.bus.Emit(bus.KindSearchResults, &Results{Query: query, Users: users})
}
