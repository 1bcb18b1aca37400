package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/softcenter/internal/middleware"
	"github.com/charlesng35/softcenter/internal/services"
	"github.com/charlesng35/softcenter/internal/storage"
	apperrors "github.com/charlesng35/softcenter/pkg/errors"
	"github.com/charlesng35/softcenter/pkg/logger"
	"github.com/charlesng35/softcenter/pkg/response"
)

const multipartOverhead = 1 << 20

// UserHandler exposes admin user views, avatar uploads and the caller's system snapshot.
type UserHandler struct {
	admin          *services.AdminService
	credentials    *services.CredentialService
	snapshots      *services.SnapshotService
	avatars        storage.AvatarStore
	maxAvatarBytes int64
}

func NewUserHandler(admin *services.AdminService, credentials *services.CredentialService, snapshots *services.SnapshotService, avatars storage.AvatarStore, maxAvatarBytes int64) *UserHandler {
	return &UserHandler{
		admin:          admin,
		credentials:    credentials,
		snapshots:      snapshots,
		avatars:        avatars,
		maxAvatarBytes: maxAvatarBytes,
	}
}

// GET /api/v1/users
func (h *UserHandler) List(c *gin.Context) {
	users, err := h.admin.ListUsers(requestContext(c), c.GetString(middleware.CtxUserRoleKey))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, users)
}

// GET /api/v1/users/:id
func (h *UserHandler) Get(c *gin.Context) {
	detail, err := h.admin.GetUserDetail(requestContext(c), c.GetString(middleware.CtxUserRoleKey), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, detail)
}

// POST /api/v1/users/avatar
func (h *UserHandler) UploadAvatar(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	if h.avatars == nil {
		fail(c, errors.New("avatar storage is not configured"))
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxAvatarBytes+multipartOverhead)
	header, err := c.FormFile("avatar")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, h.tooLarge())
			return
		}
		fail(c, apperrors.NewBadRequest("Please upload a file"))
		return
	}
	if header.Size > h.maxAvatarBytes {
		fail(c, h.tooLarge())
		return
	}

	contentType := header.Header.Get("Content-Type")
	ext, err := storage.ValidateImage(header.Filename, contentType)
	if err != nil {
		fail(c, apperrors.NewBadRequest("Only .png, .jpg and .jpeg format allowed"))
		return
	}

	file, err := header.Open()
	if err != nil {
		fail(c, fmt.Errorf("open avatar upload: %w", err))
		return
	}
	defer file.Close()

	ctx := requestContext(c)
	location, err := h.avatars.Save(ctx, storage.NewAvatarName(ext), contentType, file, header.Size)
	if err != nil {
		fail(c, err)
		return
	}

	updated, previous, err := h.credentials.UpdateAvatar(ctx, user.ID, location)
	if err != nil {
		if delErr := h.avatars.Delete(ctx, location); delErr != nil {
			logger.WithModule("handlers").Warn("orphaned avatar not removed", zap.String("location", location), zap.Error(delErr))
		}
		fail(c, err)
		return
	}
	if previous != "" && previous != location {
		if err := h.avatars.Delete(ctx, previous); err != nil {
			logger.WithModule("handlers").Warn("previous avatar not removed", zap.String("location", previous), zap.Error(err))
		}
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Avatar updated successfully",
		"avatar":  updated.Avatar,
		"user":    services.SummaryOf(updated),
	})
}

func (h *UserHandler) tooLarge() error {
	return apperrors.NewBadRequest(fmt.Sprintf("File too large, maximum size is %d bytes", h.maxAvatarBytes))
}

// GET /api/v1/users/me/system-config
func (h *UserHandler) GetSystemConfig(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	cfg, _, err := h.snapshots.FindOrCreateDefault(requestContext(c), user)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, cfg)
}

// PUT /api/v1/users/me/system-config
func (h *UserHandler) ReportSystemConfig(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var report services.ClientReport
	if !bindAndValidate(c, &report) {
		return
	}

	cfg, err := h.snapshots.ReportClient(requestContext(c), user.ID, report)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, cfg)
}
