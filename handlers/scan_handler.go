package handlers

import (
	"context"
	"net/http"

	"dshare-backend/models"

	"github.com/gin-gonic/gin"
)

// ScanLogRepository is the read side of the scan audit trail. The data is
// operator-only; nothing here is mounted on a user-facing route.
type ScanLogRepository interface {
	ListByWalletAddress(ctx context.Context, walletAddress string) ([]*models.VirusScanLog, error)
	UploadsSummary(ctx context.Context) ([]*models.UploadsSummary, error)
}

// ScanHandler handles HTTP requests for scan audit reporting
type ScanHandler struct {
	scanLogRepo ScanLogRepository
}

// NewScanHandler creates a new scan handler
func NewScanHandler(scanLogRepo ScanLogRepository) *ScanHandler {
	return &ScanHandler{scanLogRepo: scanLogRepo}
}

// UploadsSummary handles GET /api/admin/scans/summary
func (h *ScanHandler) UploadsSummary(c *gin.Context) {
	summaries, err := h.scanLogRepo.UploadsSummary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": "Failed to fetch uploads summary",
			},
		})
		return
	}
	if summaries == nil {
		summaries = []*models.UploadsSummary{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    summaries,
	})
}

// ScanHistory handles GET /api/admin/scans
func (h *ScanHandler) ScanHistory(c *gin.Context) {
	wallet := c.Query("wallet_address")
	if wallet == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "MISSING_WALLET_ADDRESS",
				"message": "wallet_address query parameter is required",
			},
		})
		return
	}

	logs, err := h.scanLogRepo.ListByWalletAddress(c.Request.Context(), wallet)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": "Failed to fetch scan history",
			},
		})
		return
	}
	if logs == nil {
		logs = []*models.VirusScanLog{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    logs,
	})
}
