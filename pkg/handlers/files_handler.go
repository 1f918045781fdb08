package handlers

import (
	"errors"
	"mime"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/database"
	"github.com/ekaya-inc/ekaya-connect/pkg/repositories"
)

// FilesHandler serves files published by the share_file tool.
// Downloads are unauthenticated; the token is the capability.
type FilesHandler struct {
	repo   repositories.SharedFileRepository
	scopes database.TenantScopeProvider
	now    func() time.Time
	logger *zap.Logger
}

// NewFilesHandler creates a new files handler.
func NewFilesHandler(repo repositories.SharedFileRepository, scopes database.TenantScopeProvider, logger *zap.Logger) *FilesHandler {
	return &FilesHandler{
		repo:   repo,
		scopes: scopes,
		now:    time.Now,
		logger: logger.Named("files-handler"),
	}
}

// RegisterRoutes registers the download route on the given mux.
func (h *FilesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /files/{token}", h.Download)
}

// Download handles GET /files/{token}
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	ctx, cleanup, err := h.scopes.WithoutTenantScope(r.Context())
	if err != nil {
		h.logger.Error("Failed to acquire connection", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "database_error", "Database connection error"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	defer cleanup()

	file, err := h.repo.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if err := ErrorResponse(w, http.StatusNotFound, "file_not_found", "File not found"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to load shared file", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "get_file_failed", "Failed to load file"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if file.Expired(h.now()) {
		if err := ErrorResponse(w, http.StatusGone, "file_expired", "The download link has expired"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Content)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.FileName}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(file.Content); err != nil {
		h.logger.Debug("Client went away during download", zap.Error(err))
	}
}
