package dao

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ntsmith7/peekaboo/internal/models"
	"github.com/ntsmith7/peekaboo/pkg/engine"
)

// GormStore implements the engine's Store contract over postgres. All
// multi-row writes go through a transaction or a single batched statement,
// so a failed call never leaves a partial batch behind.
type GormStore struct {
	db *gorm.DB
}

var _ engine.Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// UpsertTarget inserts the target or refreshes the probe state of an
// existing row with the same name. DiscoveredAt and LastCrawledAt are
// insert-only; a refresh never moves them.
func (s *GormStore) UpsertTarget(ctx context.Context, target *models.Target) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"source",
			"alive",
			"ip_addresses",
			"http_status",
			"takeover_candidate",
			"last_checked",
		}),
	}).Create(target).Error
}

func (s *GormStore) LiveUncrawledTargets(ctx context.Context, scope string) ([]models.Target, error) {
	var targets []models.Target
	err := s.db.WithContext(ctx).
		Where("alive = ?", true).
		Where("last_crawled_at IS NULL").
		Where("name = ? OR name LIKE ?", scope, "%."+scope).
		Order("name").
		Find(&targets).Error
	if err != nil {
		return nil, fmt.Errorf("query live uncrawled targets: %w", err)
	}
	return targets, nil
}

// SaveCrawlResults persists one target's crawl output and its watermark
// atomically. Replayed rows fall out on the natural-key conflict, so a
// re-crawl after a failed save does not duplicate anything.
func (s *GormStore) SaveCrawlResults(ctx context.Context, target *models.Target, resources []models.Resource, scripts []models.ScriptAsset) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := appendResources(tx, resources); err != nil {
			return fmt.Errorf("insert resources for %s: %w", target.Name, err)
		}
		if err := appendScriptAssets(tx, scripts); err != nil {
			return fmt.Errorf("insert scripts for %s: %w", target.Name, err)
		}

		now := time.Now().UTC()
		if err := tx.Model(&models.Target{}).
			Where("name = ?", target.Name).
			Update("last_crawled_at", now).Error; err != nil {
			return fmt.Errorf("set crawl watermark for %s: %w", target.Name, err)
		}
		target.LastCrawledAt = &now
		return nil
	})
}

func appendResources(tx *gorm.DB, resources []models.Resource) error {
	if len(resources) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "url"}, {Name: "method"}},
		DoNothing: true,
	}).CreateInBatches(&resources, 100).Error
}

func appendScriptAssets(tx *gorm.DB, scripts []models.ScriptAsset) error {
	if len(scripts) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "url"}},
		DoNothing: true,
	}).CreateInBatches(&scripts, 100).Error
}

func (s *GormStore) ParameterizedResources(ctx context.Context, scope string) ([]models.Resource, error) {
	var resources []models.Resource
	err := s.db.WithContext(ctx).
		Where("domain = ? OR domain LIKE ?", scope, "%."+scope).
		Where("parameters IS NOT NULL AND parameters NOT IN ('', '{}', 'null')").
		Order("id").
		Find(&resources).Error
	if err != nil {
		return nil, fmt.Errorf("query parameterized resources: %w", err)
	}
	return resources, nil
}

func (s *GormStore) AppendFindings(ctx context.Context, findings []models.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(&findings, 100).Error
}

// FindingsByScope returns the findings recorded for a scope, newest
// first. Not part of the engine contract; the notification path uses it.
func (s *GormStore) FindingsByScope(ctx context.Context, scope string) ([]models.Finding, error) {
	var findings []models.Finding
	err := s.db.WithContext(ctx).
		Where("domain = ? OR domain LIKE ?", scope, "%."+scope).
		Order("detected_at desc").
		Find(&findings).Error
	if err != nil {
		return nil, fmt.Errorf("query findings: %w", err)
	}
	return findings, nil
}

func (s *GormStore) CountsByScope(ctx context.Context, scope string) (models.ScopeCounts, error) {
	var counts models.ScopeCounts
	db := s.db.WithContext(ctx)
	pattern := "%." + scope

	if err := db.Model(&models.Target{}).
		Where("name = ? OR name LIKE ?", scope, pattern).
		Count(&counts.Targets).Error; err != nil {
		return models.ScopeCounts{}, fmt.Errorf("count targets: %w", err)
	}
	if err := db.Model(&models.Target{}).
		Where("name = ? OR name LIKE ?", scope, pattern).
		Where("alive = ?", true).
		Count(&counts.LiveTargets).Error; err != nil {
		return models.ScopeCounts{}, fmt.Errorf("count live targets: %w", err)
	}
	if err := db.Model(&models.Resource{}).
		Where("domain = ? OR domain LIKE ?", scope, pattern).
		Count(&counts.Resources).Error; err != nil {
		return models.ScopeCounts{}, fmt.Errorf("count resources: %w", err)
	}
	if err := db.Model(&models.ScriptAsset{}).
		Where("domain = ? OR domain LIKE ?", scope, pattern).
		Count(&counts.Scripts).Error; err != nil {
		return models.ScopeCounts{}, fmt.Errorf("count scripts: %w", err)
	}
	if err := db.Model(&models.Finding{}).
		Where("domain = ? OR domain LIKE ?", scope, pattern).
		Count(&counts.Findings).Error; err != nil {
		return models.ScopeCounts{}, fmt.Errorf("count findings: %w", err)
	}
	return counts, nil
}
