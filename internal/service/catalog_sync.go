package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/rentsync/internal/api/renteon"
	"github.com/langchou/rentsync/internal/models"
)

// CatalogSyncEngine 将远端分类/车型同步为本地车辆
type CatalogSyncEngine struct {
	logger    *zap.Logger
	cars      CarStore
	proposals ProposalStore
	now       func() time.Time
}

// NewCatalogSyncEngine 创建目录同步引擎
func NewCatalogSyncEngine(logger *zap.Logger, cars CarStore, proposals ProposalStore) *CatalogSyncEngine {
	return &CatalogSyncEngine{logger: logger, cars: cars, proposals: proposals, now: time.Now}
}

// CatalogResult 目录同步结果
type CatalogResult struct {
	Stats     models.SyncStats
	Proposals []*models.DeactivationProposal
}

// Sync 按 renteon_id == 车型 ID 创建或更新车辆。
// 车牌、里程等本地字段只在创建时填占位值，更新时不动。
// 完整运行后，远端已不存在的上架车辆生成停用提议，由人工确认。
func (e *CatalogSyncEngine) Sync(ctx context.Context, categories []renteon.CarCategory) (*CatalogResult, error) {
	result := &CatalogResult{}
	stats := &result.Stats

	// present 记录本次出现的所有远端 ID，直接以分类 ID 关联的车辆也算仍存在
	present := make(map[int64]bool)
	synced := make(map[int64]bool)
	for _, category := range categories {
		present[category.ID] = true
	}

scan:
	for _, category := range categories {
		for _, model := range category.CarModels {
			if ctx.Err() != nil {
				stats.Partial = true
				e.logger.Warn("Catalog sync stopped before completion", zap.Error(ctx.Err()), zap.Int("scanned", stats.TotalScanned))
				break scan
			}
			// 同一车型挂在多个分类下时只处理第一次，重复项不计入扫描数
			if synced[model.ID] {
				continue
			}
			stats.TotalScanned++
			if model.ID <= 0 {
				stats.Skipped++
				continue
			}
			synced[model.ID] = true
			present[model.ID] = true

			created, err := e.upsert(ctx, category, model)
			if err != nil {
				stats.Failed++
				e.logger.Error("Failed to sync car model", zap.Int64("model_id", model.ID), zap.Error(err))
				continue
			}
			if created {
				stats.Created++
			} else {
				stats.Updated++
			}
		}
	}

	if !stats.Partial {
		proposals, err := e.propose(ctx, present)
		switch {
		case err != nil && ctx.Err() != nil:
			stats.Partial = true
			e.logger.Warn("Deactivation proposals skipped, out of time", zap.Error(err))
		case err != nil:
			return result, err
		default:
			result.Proposals = proposals
		}
	}

	e.logger.Info("Catalog sync finished",
		zap.Int("created", stats.Created),
		zap.Int("updated", stats.Updated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Int("scanned", stats.TotalScanned),
		zap.Int("proposals", len(result.Proposals)),
	)
	return result, nil
}

// upsert 返回是否新建
func (e *CatalogSyncEngine) upsert(ctx context.Context, category renteon.CarCategory, model renteon.CarModel) (bool, error) {
	brand := strings.TrimSpace(model.CarMakeName)
	name := StripMake(brand, model.Name)

	existing, err := e.cars.GetByRenteonID(ctx, model.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return false, err
	}

	if existing != nil {
		existing.Make = brand
		existing.Model = name
		existing.Year = model.Year
		existing.Transmission = TransmissionFromRemote(category.CarTransmissionType)
		existing.Seats = category.PassengerCapacity
		existing.Doors = category.NumberOfDoors
		if err := e.cars.UpdateDescriptive(ctx, existing); err != nil {
			return false, err
		}
		return false, nil
	}

	renteonID := model.ID
	car := &models.Car{
		RenteonID:    &renteonID,
		Make:         brand,
		Model:        name,
		Year:         model.Year,
		CategoryIDs:  []int64{},
		Transmission: TransmissionFromRemote(category.CarTransmissionType),
		Seats:        category.PassengerCapacity,
		Doors:        category.NumberOfDoors,
		LicensePlate: PlaceholderPlate(model.ID),
		Status:       models.CarStatusActive,
	}
	if err := e.cars.Create(ctx, car); err != nil {
		return false, err
	}
	e.logger.Info("Created car from remote model",
		zap.Int64("car_id", car.ID),
		zap.Int64("model_id", model.ID),
		zap.String("make", car.Make),
		zap.String("model", car.Model),
	)
	return true, nil
}

// propose 为远端已消失的上架车辆生成停用提议，替换上一轮未审核的提议
func (e *CatalogSyncEngine) propose(ctx context.Context, present map[int64]bool) ([]*models.DeactivationProposal, error) {
	cars, err := e.cars.ListWithRenteonID(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cars with renteon id: %w", err)
	}

	proposals := []*models.DeactivationProposal{}
	for _, car := range cars {
		if car.Status != models.CarStatusActive || present[*car.RenteonID] {
			continue
		}
		proposals = append(proposals, &models.DeactivationProposal{
			CarID:     car.ID,
			RenteonID: *car.RenteonID,
			Action:    models.ActionDeactivate,
			Status:    models.ProposalPending,
		})
	}

	if err := e.proposals.ReplacePending(ctx, e.now(), proposals); err != nil {
		return nil, fmt.Errorf("store deactivation proposals: %w", err)
	}
	return proposals, nil
}

// StripMake 去掉车型名开头的品牌（忽略大小写）
func StripMake(brand, name string) string {
	name = strings.TrimSpace(name)
	if brand == "" || len(name) < len(brand) {
		return name
	}
	if !strings.EqualFold(name[:len(brand)], brand) {
		return name
	}
	stripped := strings.TrimSpace(name[len(brand):])
	if stripped == "" {
		return name
	}
	return stripped
}

// TransmissionFromRemote 远端变速箱类型转换为本地枚举
func TransmissionFromRemote(t renteon.FlexString) string {
	v := strings.ToLower(string(t))
	switch {
	case strings.Contains(v, "auto"):
		return models.TransmissionAutomatic
	case strings.Contains(v, "man"):
		return models.TransmissionManual
	default:
		return models.TransmissionUnknown
	}
}

// PlaceholderPlate 同步新建车辆的占位车牌
func PlaceholderPlate(modelID int64) string {
	return "PENDING-" + strconv.FormatInt(modelID, 10)
}
