package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/langchou/rentsync/internal/api/renteon"
	"github.com/langchou/rentsync/internal/models"
)

// CategoryMapper 将本地车辆解析为远端分类 ID。
// 解析顺序：人工映射 > 车型 ID > 分类 ID 本身，命中即返回。
type CategoryMapper struct {
	overrides  map[int64]int64
	byModel    map[int64]int64
	categories map[int64]renteon.CarCategory
	groupOf    map[int64]string
	groups     map[string][]int64
}

// NewCategoryMapper 基于一次分类快照和人工映射构建映射器
func NewCategoryMapper(categories []renteon.CarCategory, overrides []*models.CategoryOverride) *CategoryMapper {
	m := &CategoryMapper{
		overrides:  make(map[int64]int64, len(overrides)),
		byModel:    make(map[int64]int64),
		categories: make(map[int64]renteon.CarCategory, len(categories)),
		groupOf:    make(map[int64]string, len(categories)),
		groups:     make(map[string][]int64),
	}

	for _, o := range overrides {
		m.overrides[o.RenteonID] = o.CategoryID
	}

	for _, c := range categories {
		if _, dup := m.categories[c.ID]; dup {
			continue
		}
		m.categories[c.ID] = c
		for _, model := range c.CarModels {
			// 同一车型出现在多个分类时以第一个为准
			if _, ok := m.byModel[model.ID]; !ok {
				m.byModel[model.ID] = c.ID
			}
		}
		if group := c.InsuranceGroupName(); group != "" {
			m.groupOf[c.ID] = group
			m.groups[group] = append(m.groups[group], c.ID)
		}
	}

	for _, ids := range m.groups {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return m
}

// Resolve 解析车辆对应的远端分类
func (m *CategoryMapper) Resolve(car *models.Car) (int64, bool) {
	if car == nil || !car.HasRenteonID() {
		return 0, false
	}
	return m.ResolveID(*car.RenteonID)
}

// ResolveID 解析远端 ID（车型 ID 或分类 ID）
func (m *CategoryMapper) ResolveID(renteonID int64) (int64, bool) {
	if id, ok := m.overrides[renteonID]; ok {
		return id, true
	}
	if id, ok := m.byModel[renteonID]; ok {
		return id, true
	}
	if _, ok := m.categories[renteonID]; ok {
		return renteonID, true
	}
	return 0, false
}

// MustResolve 与 Resolve 相同，解析失败时返回 ErrMapping
func (m *CategoryMapper) MustResolve(car *models.Car) (int64, error) {
	id, ok := m.Resolve(car)
	if !ok {
		var renteonID int64
		if car != nil && car.RenteonID != nil {
			renteonID = *car.RenteonID
		}
		return 0, fmt.Errorf("%w: renteon_id=%d", ErrMapping, renteonID)
	}
	return id, nil
}

// Siblings 同一保险组内的其他分类，按 ID 升序，不包含自身
func (m *CategoryMapper) Siblings(categoryID int64) []int64 {
	group, ok := m.groupOf[categoryID]
	if !ok {
		return nil
	}
	var siblings []int64
	for _, id := range m.groups[group] {
		if id != categoryID {
			siblings = append(siblings, id)
		}
	}
	return siblings
}

// loadMapper 从缓存（或远端）和映射表构建映射器
func loadMapper(ctx context.Context, remote Remote, cache *CategoryCache, overrides OverrideStore) (*CategoryMapper, error) {
	categories, err := cache.Get(ctx, remote)
	if err != nil {
		return nil, err
	}
	list, err := overrides.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list category overrides: %w", err)
	}
	return NewCategoryMapper(categories, list), nil
}
