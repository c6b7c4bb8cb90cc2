package rules

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/enterprise/withdraw-review/internal/models"
)

// Loader fetches the ACTIVE rule set, priority-ordered.
type Loader interface {
	GetActiveRules(ctx context.Context) ([]models.RuleDefinition, error)
}

// Cache keeps a compiled rule set with a TTL refresh. When a refresh fails
// the last known-good set is served indefinitely: the engine neither fails
// open (no rules) nor fails closed (hard error) on a store outage.
type Cache struct {
	mu       sync.RWMutex
	loader   Loader
	ttl      time.Duration
	compiled []CompiledRule
	loadedAt time.Time
	loaded   bool

	now func() time.Time
}

// NewCache creates a rule cache with the given TTL.
func NewCache(loader Loader, ttl time.Duration) *Cache {
	return &Cache{
		loader: loader,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Rules returns the current compiled rule set, refreshing from the store
// when the cache window expired. Never returns an error: on refresh failure
// the stale set (or an empty set on cold start) is returned.
func (c *Cache) Rules(ctx context.Context) []CompiledRule {
	c.mu.RLock()
	if c.loaded && c.now().Sub(c.loadedAt) < c.ttl {
		rules := c.compiled
		c.mu.RUnlock()
		return rules
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have refreshed while we waited for the lock.
	if c.loaded && c.now().Sub(c.loadedAt) < c.ttl {
		return c.compiled
	}

	defs, err := c.loader.GetActiveRules(ctx)
	if err != nil {
		log.Error().Err(err).Bool("serving_stale", c.loaded).Msg("Failed to refresh rule set")
		return c.compiled
	}

	c.compiled = Compile(defs)
	c.loadedAt = c.now()
	c.loaded = true

	log.Info().Int("rule_count", len(c.compiled)).Msg("Rule set loaded")
	return c.compiled
}

// Definitions returns the cached rule definitions, for API exposure.
func (c *Cache) Definitions(ctx context.Context) []models.RuleDefinition {
	compiled := c.Rules(ctx)
	defs := make([]models.RuleDefinition, 0, len(compiled))
	for _, rule := range compiled {
		defs = append(defs, rule.Def)
	}
	return defs
}
