package dao

import (
	"time"

	"gorm.io/gorm"

	"github.com/ntsmith7/peekaboo/internal/models"
)

type ScanDAO interface {
	CreateScan(scan *models.Scan) error
	UpdateScan(scan *models.Scan) error
	UpdateScanStatus(uuid string, status models.ScanStatus) error
	GetScanByUUID(uuid string) (*models.Scan, error)
	ListScans() ([]models.Scan, error)
}

type scanDAO struct {
	db *gorm.DB
}

func NewScanDAO(db *gorm.DB) ScanDAO {
	return &scanDAO{db: db}
}

func (dao *scanDAO) CreateScan(scan *models.Scan) error {
	return dao.db.Create(scan).Error
}

func (dao *scanDAO) UpdateScan(scan *models.Scan) error {
	return dao.db.Save(scan).Error
}

// UpdateScanStatus moves a scan record to the given status; reaching a
// terminal status also stamps CompletedAt.
func (dao *scanDAO) UpdateScanStatus(uuid string, status models.ScanStatus) error {
	updates := map[string]interface{}{"status": status}
	if status.Terminal() {
		updates["completed_at"] = time.Now().UTC()
	}

	result := dao.db.Model(&models.Scan{}).Where("uuid = ?", uuid).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (dao *scanDAO) GetScanByUUID(uuid string) (*models.Scan, error) {
	var scan models.Scan
	if err := dao.db.Where("uuid = ?", uuid).First(&scan).Error; err != nil {
		return nil, err
	}
	return &scan, nil
}

// ListScans returns the 50 most recent scan records.
func (dao *scanDAO) ListScans() ([]models.Scan, error) {
	var scans []models.Scan
	if err := dao.db.Order("created_at desc").Limit(50).Find(&scans).Error; err != nil {
		return nil, err
	}
	return scans, nil
}
