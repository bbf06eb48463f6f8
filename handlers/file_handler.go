package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"dshare-backend/ledger"
	"dshare-backend/models"
	"dshare-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UploadPipeline is the ingestion pipeline behind the upload gateway.
type UploadPipeline interface {
	Upload(ctx context.Context, req service.UploadRequest) (*service.UploadResult, error)
	Reindex(ctx context.Context, req service.ReindexRequest) (*service.ReindexResult, error)
}

// FileRepository is the read/update side used by the listing endpoints.
type FileRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.File, error)
	ListPublic(ctx context.Context) ([]*models.File, error)
	ListShared(ctx context.Context) ([]*models.File, error)
	ListByOwnerAddress(ctx context.Context, ownerAddress string) ([]*models.File, error)
	ListPrivateByOwner(ctx context.Context, ownerAddress string) ([]*models.File, error)
	ListRecent(ctx context.Context, limit int) ([]*models.File, error)
	Count(ctx context.Context) (int64, error)
	UpdateAccess(ctx context.Context, id uuid.UUID, visibility models.Visibility, sharedWith []string) (*models.File, error)
}

// ContentFetcher streams stored content back for downloads.
type ContentFetcher interface {
	Get(ctx context.Context, cid string) (io.ReadCloser, error)
}

// FileHandler handles HTTP requests for file operations
type FileHandler struct {
	pipeline    UploadPipeline
	fileRepo    FileRepository
	content     ContentFetcher
	maxFileSize int64
}

// NewFileHandler creates a new file handler
func NewFileHandler(pipeline UploadPipeline, fileRepo FileRepository, content ContentFetcher) *FileHandler {
	return &FileHandler{
		pipeline:    pipeline,
		fileRepo:    fileRepo,
		content:     content,
		maxFileSize: 32 * 1024 * 1024, // scan service upload limit
	}
}

// UploadFile handles POST /api/files/upload
func (h *FileHandler) UploadFile(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"stage":   "validate",
			"message": "File is required",
		})
		return
	}

	if fileHeader.Size > h.maxFileSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"stage":   "validate",
			"message": fmt.Sprintf("File size exceeds maximum of %d bytes", h.maxFileSize),
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"stage":   "validate",
			"message": err.Error(),
		})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"stage":   "validate",
			"message": "Failed to read file",
		})
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	var sharedWith []string
	if raw := c.PostForm("shared_with"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &sharedWith); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"status":  "error",
				"stage":   "validate",
				"message": "shared_with must be a JSON array",
			})
			return
		}
	}

	displayName := c.PostForm("filename")
	if displayName == "" {
		displayName = fileHeader.Filename
	}

	result, err := h.pipeline.Upload(c.Request.Context(), service.UploadRequest{
		Data:          data,
		OriginalName:  fileHeader.Filename,
		MimeType:      mimeType,
		Size:          fileHeader.Size,
		Filename:      displayName,
		Description:   c.PostForm("description"),
		Visibility:    c.PostForm("visibility"),
		SharedWith:    sharedWith,
		Username:      c.PostForm("username"),
		WalletAddress: c.PostForm("wallet_address"),
	})
	if err != nil {
		h.writeUploadError(c, result, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":      "success",
		"scan_status": result.ScanStatus,
		"summary":     result.Summary,
		"cid":         result.CID,
		"file_hash":   result.FileHash,
		"tx_hash":     result.TxHash,
		"file":        result.File,
	})
}

// writeUploadError maps the pipeline's error taxonomy onto the gateway's
// status codes: 403 malicious, 408 scan timeout, 400 caller errors, 500
// store/commit/persist failures with a correlation id for support.
func (h *FileHandler) writeUploadError(c *gin.Context, result *service.UploadResult, err error) {
	var corrID string
	var stage service.Stage
	var stageErr *service.StageError
	if errors.As(err, &stageErr) {
		corrID = stageErr.CorrelationID
		stage = stageErr.Stage
	}

	switch {
	case errors.Is(err, service.ErrScanRejected):
		resp := gin.H{
			"status":  "rejected",
			"message": "File contains malicious content",
		}
		if result != nil {
			resp["scan_status"] = result.ScanStatus
			resp["summary"] = result.Summary
		}
		c.JSON(http.StatusForbidden, resp)

	case errors.Is(err, service.ErrScanTimeout):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"status":  "error",
			"stage":   stage,
			"message": "Virus scan timeout; please resubmit",
		})

	case stage == service.StageValidate,
		errors.Is(err, ledger.ErrDuplicateCID),
		errors.Is(err, ledger.ErrEmptyFileName):
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"stage":   stage,
			"message": unwrapMessage(err),
		})

	default:
		var persistErr *service.PersistError
		if errors.As(err, &persistErr) {
			c.JSON(http.StatusInternalServerError, gin.H{
				"status":         "error",
				"stage":          stage,
				"message":        "Upload confirmed on ledger but indexing failed; retry with the returned file_hash",
				"file_hash":      persistErr.FileHash,
				"cid":            persistErr.CID,
				"correlation_id": corrID,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":         "error",
			"stage":          stage,
			"message":        "Upload failed, please try again",
			"correlation_id": corrID,
		})
	}
}

func unwrapMessage(err error) string {
	var stageErr *service.StageError
	if errors.As(err, &stageErr) {
		return stageErr.Err.Error()
	}
	return err.Error()
}

// ReindexFile handles POST /api/files/reindex
func (h *FileHandler) ReindexFile(c *gin.Context) {
	var body struct {
		FileHash      string `json:"file_hash" binding:"required"`
		WalletAddress string `json:"wallet_address" binding:"required"`
		Description   string `json:"description"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "file_hash and wallet_address are required",
			},
		})
		return
	}

	result, err := h.pipeline.Reindex(c.Request.Context(), service.ReindexRequest{
		FileHash:      body.FileHash,
		Caller:        body.WalletAddress,
		Description:   body.Description,
		WalletAddress: body.WalletAddress,
	})
	if err != nil {
		status := http.StatusInternalServerError
		code := "REINDEX_FAILED"
		if errors.Is(err, ledger.ErrAccessDenied) || errors.Is(err, ledger.ErrBlocked) {
			status = http.StatusForbidden
			code = "ACCESS_DENIED"
		}
		c.JSON(status, gin.H{
			"success": false,
			"error": gin.H{
				"code":    code,
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    result.File,
	})
}

// ListPublicFiles handles GET /api/files
func (h *FileHandler) ListPublicFiles(c *gin.Context) {
	h.respondList(c)(h.fileRepo.ListPublic(c.Request.Context()))
}

// ListSharedFiles handles GET /api/files/shared
func (h *FileHandler) ListSharedFiles(c *gin.Context) {
	h.respondList(c)(h.fileRepo.ListShared(c.Request.Context()))
}

// ListMyFiles handles GET /api/files/mine
func (h *FileHandler) ListMyFiles(c *gin.Context) {
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
	h.respondList(c)(h.fileRepo.ListByOwnerAddress(c.Request.Context(), wallet))
}

// ListPrivateFiles handles GET /api/files/private
func (h *FileHandler) ListPrivateFiles(c *gin.Context) {
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
	h.respondList(c)(h.fileRepo.ListPrivateByOwner(c.Request.Context(), wallet))
}

// ListRecentFiles handles GET /api/files/recent
func (h *FileHandler) ListRecentFiles(c *gin.Context) {
	h.respondList(c)(h.fileRepo.ListRecent(c.Request.Context(), 4))
}

// CountFiles handles GET /api/files/count
func (h *FileHandler) CountFiles(c *gin.Context) {
	count, err := h.fileRepo.Count(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": "Failed to fetch total files count",
			},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"total_files": count},
	})
}

// GetFile handles GET /api/files/:id
func (h *FileHandler) GetFile(c *gin.Context) {
	file, ok := h.fileByID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    file,
	})
}

// DownloadFile handles GET /api/files/:id/content
func (h *FileHandler) DownloadFile(c *gin.Context) {
	file, ok := h.fileByID(c)
	if !ok {
		return
	}

	reader, err := h.content.Get(c.Request.Context(), file.CID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DOWNLOAD_FAILED",
				"message": fmt.Sprintf("Failed to fetch content: %v", err),
			},
		})
		return
	}
	defer reader.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.DataFromReader(http.StatusOK, file.Size, file.MimeType, reader, nil)
}

// UpdateAccess handles PUT /api/files/:id/access
func (h *FileHandler) UpdateAccess(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_ID",
				"message": "Invalid file ID format",
			},
		})
		return
	}

	var body struct {
		Visibility string   `json:"visibility" binding:"required"`
		SharedWith []string `json:"shared_with"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "visibility is required",
			},
		})
		return
	}

	vis, err := models.ParseVisibility(body.Visibility)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_VISIBILITY",
				"message": err.Error(),
			},
		})
		return
	}

	file, err := h.fileRepo.UpdateAccess(c.Request.Context(), id, vis, body.SharedWith)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "UPDATE_FAILED",
				"message": "Failed to update file access",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    file,
	})
}

func (h *FileHandler) fileByID(c *gin.Context) (*models.File, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_ID",
				"message": "Invalid file ID format",
			},
		})
		return nil, false
	}

	file, err := h.fileRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "File not found",
			},
		})
		return nil, false
	}
	return file, true
}

func (h *FileHandler) respondList(c *gin.Context) func([]*models.File, error) {
	return func(files []*models.File, err error) {
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "DATABASE_ERROR",
					"message": "Failed to fetch files",
				},
			})
			return
		}
		if files == nil {
			files = []*models.File{}
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    files,
		})
	}
}
