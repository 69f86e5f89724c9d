package testutil

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/club-ranklist/internal/domain"
)

// DiscardLogger returns a logger that drops everything
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MemCache is an in-memory ranking cache that records invalidations
type MemCache struct {
	mu          sync.Mutex
	data        map[int64]domain.RankingData
	Invalidated []int64
	Sets        int
}

// NewMemCache creates an empty cache
func NewMemCache() *MemCache {
	return &MemCache{data: make(map[int64]domain.RankingData)}
}

func (c *MemCache) GetRanking(_ context.Context, rankListID int64) (*domain.RankingData, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.data[rankListID]
	if !ok {
		return nil, false, nil
	}
	return &data, true, nil
}

func (c *MemCache) SetRanking(_ context.Context, data *domain.RankingData) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[data.RankList.ID] = *data
	c.Sets++
	return nil
}

func (c *MemCache) Invalidate(_ context.Context, rankListIDs ...int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range rankListIDs {
		delete(c.data, id)
		c.Invalidated = append(c.Invalidated, id)
	}
	return nil
}

// Cached reports whether a ranking is cached
func (c *MemCache) Cached(rankListID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[rankListID]
	return ok
}

// Broadcast is one recorded notification
type Broadcast struct {
	RankListID int64
	Reason     string
}

// RecordingNotifier records ranklist update notifications
type RecordingNotifier struct {
	mu         sync.Mutex
	Broadcasts []Broadcast
}

func (n *RecordingNotifier) BroadcastRankListUpdate(rankListID int64, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Broadcasts = append(n.Broadcasts, Broadcast{RankListID: rankListID, Reason: reason})
}

// Count returns how many notifications were recorded
func (n *RecordingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Broadcasts)
}
