package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/enterprise/withdraw-review/internal/models"
)

type fakeLoader struct {
	calls int
	defs  []models.RuleDefinition
	err   error
}

func (l *fakeLoader) GetActiveRules(context.Context) ([]models.RuleDefinition, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return l.defs, nil
}

func TestCacheLoadsOnce(t *testing.T) {
	loader := &fakeLoader{defs: []models.RuleDefinition{
		activeRule(1, 10, "is_sanctioned == true", models.DecisionReject, "Sanctioned destination"),
	}}
	cache := NewCache(loader, 5*time.Minute)

	first := cache.Rules(context.Background())
	second := cache.Rules(context.Background())

	assert.Equal(t, 1, loader.calls)
	assert.Len(t, first, 1)
	assert.Len(t, second, 1)
}

func TestCacheRefreshesAfterTTL(t *testing.T) {
	loader := &fakeLoader{defs: []models.RuleDefinition{
		activeRule(1, 10, "is_sanctioned == true", models.DecisionReject, "Sanctioned destination"),
	}}
	cache := NewCache(loader, 5*time.Minute)

	clock := time.Now()
	cache.now = func() time.Time { return clock }

	cache.Rules(context.Background())
	clock = clock.Add(4 * time.Minute)
	cache.Rules(context.Background())
	assert.Equal(t, 1, loader.calls)

	clock = clock.Add(2 * time.Minute)
	cache.Rules(context.Background())
	assert.Equal(t, 2, loader.calls)
}

func TestCacheServesStaleOnRefreshFailure(t *testing.T) {
	loader := &fakeLoader{defs: []models.RuleDefinition{
		activeRule(1, 10, "is_sanctioned == true", models.DecisionReject, "Sanctioned destination"),
	}}
	cache := NewCache(loader, 5*time.Minute)

	clock := time.Now()
	cache.now = func() time.Time { return clock }

	cache.Rules(context.Background())

	loader.err = errors.New("connection refused")
	clock = clock.Add(10 * time.Minute)

	stale := cache.Rules(context.Background())
	assert.Len(t, stale, 1, "last known-good set is served")
}

func TestCacheColdStartFailureReturnsEmpty(t *testing.T) {
	loader := &fakeLoader{err: errors.New("connection refused")}
	cache := NewCache(loader, 5*time.Minute)

	rules := cache.Rules(context.Background())
	assert.Empty(t, rules)
}

func TestDefinitionsExposeLoadedRules(t *testing.T) {
	loader := &fakeLoader{defs: []models.RuleDefinition{
		activeRule(1, 10, "is_sanctioned == true", models.DecisionReject, "Sanctioned destination"),
		activeRule(2, 20, "withdrawal_ratio > 0.9", models.DecisionHold, "Near-total drain"),
	}}
	cache := NewCache(loader, 5*time.Minute)

	defs := cache.Definitions(context.Background())
	assert.Len(t, defs, 2)
	assert.Equal(t, int64(1), defs[0].RuleID)
}
