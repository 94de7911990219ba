package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/langchou/rentsync/internal/api/renteon"
)

// CategoryCache 远端分类快照缓存，避免每次页面请求都拉取 /carCategories
type CategoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu         sync.Mutex
	categories []renteon.CarCategory
	fetchedAt  time.Time
}

// NewCategoryCache 创建分类缓存
func NewCategoryCache(ttl time.Duration) *CategoryCache {
	return &CategoryCache{ttl: ttl, now: time.Now}
}

// Set 写入最新快照（同步任务拉取后调用）
func (c *CategoryCache) Set(categories []renteon.CarCategory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.categories = categories
	c.fetchedAt = c.now()
}

// Get 返回未过期的快照，过期或为空时通过 remote 重新拉取
func (c *CategoryCache) Get(ctx context.Context, remote Remote) ([]renteon.CarCategory, error) {
	c.mu.Lock()
	if c.categories != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		categories := c.categories
		c.mu.Unlock()
		return categories, nil
	}
	c.mu.Unlock()

	categories, err := remote.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list car categories: %w", err)
	}
	if categories == nil {
		categories = []renteon.CarCategory{}
	}
	c.Set(categories)
	return categories, nil
}

