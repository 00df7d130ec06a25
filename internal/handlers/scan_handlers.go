package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ntsmith7/peekaboo/internal/services"
	apperrors "github.com/ntsmith7/peekaboo/pkg/errors"
	"github.com/ntsmith7/peekaboo/pkg/logger"
)

type ScanHandler struct {
	scanService services.ScanServiceMethods
	logger      *logger.Logger
}

func NewScanHandler(scanService services.ScanServiceMethods) *ScanHandler {
	return &ScanHandler{scanService: scanService, logger: logger.NewLogger(logrus.InfoLevel)}
}

// StartScan accepts the scan and returns its id right away; progress is
// observable through GET /api/scans/:id.
func (h *ScanHandler) StartScan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Error("Failed to bind scan request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	h.logger.WithFields(logger.Fields{
		"domain":     req.Domain,
		"bruteforce": req.IncludeBruteforce,
	}).Info("Starting scan")

	id, err := h.scanService.StartScan(services.StartScanRequest{
		Domain:            req.Domain,
		IncludeBruteforce: req.IncludeBruteforce,
		TimeoutMinutes:    req.TimeoutMinutes,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidConfig) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.WithError(err).Error("Failed to start scan")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start scan"})
		return
	}
	c.JSON(http.StatusAccepted, ScanResponse{ScanID: id})
}

func (h *ScanHandler) GetScanByUUID(c *gin.Context) {
	scanID := c.Param("id")
	scan, err := h.scanService.GetScanByUUID(scanID)
	if err != nil {
		if errors.Is(err, apperrors.ErrScanNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Scan not found"})
			return
		}
		h.logger.WithError(err).Error("Failed to get scan")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get scan"})
		return
	}
	c.JSON(http.StatusOK, scan)
}

func (h *ScanHandler) ListScans(c *gin.Context) {
	scans, err := h.scanService.ListScans()
	if err != nil {
		h.logger.WithError(err).Error("Failed to list scans")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list scans"})
		return
	}
	c.JSON(http.StatusOK, scans)
}

// GetScanReport serves the final report. A scan that has not finished
// yet answers 409 so pollers can tell "not yet" from "never".
func (h *ScanHandler) GetScanReport(c *gin.Context) {
	scanID := c.Param("id")
	report, err := h.scanService.GetScanReport(scanID)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrScanNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Scan not found"})
		case errors.Is(err, apperrors.ErrScanNotFinished):
			c.JSON(http.StatusConflict, gin.H{"error": "Scan still running, no report yet"})
		default:
			h.logger.WithError(err).Error("Failed to get scan report")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get scan report"})
		}
		return
	}
	c.JSON(http.StatusOK, report)
}

// CancelScan requests cancellation. The scan winds down asynchronously;
// 202 means the request was taken, not that the scan is gone already.
func (h *ScanHandler) CancelScan(c *gin.Context) {
	scanID := c.Param("id")
	if err := h.scanService.CancelScan(scanID); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrScanNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Scan not found"})
		case errors.Is(err, apperrors.ErrScanFinished):
			c.JSON(http.StatusConflict, gin.H{"error": "Scan already finished"})
		default:
			h.logger.WithError(err).Error("Failed to cancel scan")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel scan"})
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}
