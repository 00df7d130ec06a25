package services

import (
	"time"

	"github.com/ntsmith7/peekaboo/internal/dao"
	"github.com/ntsmith7/peekaboo/internal/models"
	"github.com/ntsmith7/peekaboo/pkg/logger"
)

// ScanStatusManager persists lifecycle transitions of scan records. The
// engine keeps its own in-memory state; this writes the durable mirror
// the API serves.
type ScanStatusManager struct {
	scanDao dao.ScanDAO
	logger  *logger.Logger
}

func newScanStatusManager(scanDao dao.ScanDAO, logger *logger.Logger) *ScanStatusManager {
	return &ScanStatusManager{
		scanDao: scanDao,
		logger:  logger,
	}
}

func (m *ScanStatusManager) UpdateStatus(scanID string, status models.ScanStatus) error {
	return m.scanDao.UpdateScanStatus(scanID, status)
}

func (m *ScanStatusManager) MarkCancelled(scanID string) {
	if err := m.scanDao.UpdateScanStatus(scanID, models.ScanStatusCancelled); err != nil {
		m.logger.WithFields(logger.Fields{"error": err, "scan_id": scanID}).Error("Failed to persist cancelled scan status")
	}
}

func (m *ScanStatusManager) MarkFailedWithReason(scanID string, reason string) {
	scan, err := m.scanDao.GetScanByUUID(scanID)
	if err != nil {
		m.logger.WithFields(logger.Fields{"error": err, "scan_id": scanID}).Error("Failed to load scan for failure update")
		return
	}

	scan.Status = models.ScanStatusFailed
	scan.ErrorMessage = reason
	now := time.Now().UTC()
	scan.CompletedAt = &now

	if err := m.scanDao.UpdateScan(scan); err != nil {
		m.logger.WithFields(logger.Fields{"error": err, "scan_id": scanID}).Error("Failed to persist failed scan status")
	}

	m.logger.WithFields(logger.Fields{
		"scan_id": scanID,
		"reason":  reason,
	}).Error("Scan marked as failed")
}
