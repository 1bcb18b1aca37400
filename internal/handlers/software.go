package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/softcenter/internal/models"
	"github.com/charlesng35/softcenter/internal/services"
	apperrors "github.com/charlesng35/softcenter/pkg/errors"
	"github.com/charlesng35/softcenter/pkg/response"
)

// SoftwareHandler exposes the caller's installed-software ledger.
type SoftwareHandler struct {
	ledger *services.LedgerService
}

func NewSoftwareHandler(ledger *services.LedgerService) *SoftwareHandler {
	return &SoftwareHandler{ledger: ledger}
}

type installationCheck struct {
	AppID     string                    `json:"appId"`
	Installed bool                      `json:"installed"`
	Software  *models.InstalledSoftware `json:"software"`
}

type installRequest struct {
	Name    string `json:"name" validate:"required,max=255"`
	Version string `json:"version" validate:"required,max=64"`
}

type updateRequest struct {
	Version string `json:"version" validate:"max=64"`
}

// GET /api/v1/user-software
func (h *SoftwareHandler) List(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	h.respondLedger(c, user.ID)
}

// GET /api/v1/user-software/user/:userId
func (h *SoftwareHandler) ListForUser(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	target := c.Param("userId")
	if target != user.ID && !user.IsAdmin() {
		fail(c, apperrors.ErrForbidden)
		return
	}
	h.respondLedger(c, target)
}

func (h *SoftwareHandler) respondLedger(c *gin.Context, userID string) {
	ctx := requestContext(c)
	if _, err := h.ledger.EnsureSeeded(ctx, userID); err != nil {
		fail(c, err)
		return
	}
	entries, err := h.ledger.ListForUser(ctx, userID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, entries)
}

// GET /api/v1/user-software/:appId
func (h *SoftwareHandler) Check(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	appID := c.Param("appId")
	entry, err := h.ledger.Get(requestContext(c), user.ID, appID)
	if err != nil && !errors.Is(err, services.ErrSoftwareNotFound) {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, installationCheck{
		AppID:     appID,
		Installed: entry != nil && entry.Status == models.StatusInstalled,
		Software:  entry,
	})
}

// POST /api/v1/user-software/:appId/install
func (h *SoftwareHandler) Install(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req installRequest
	if !bindAndValidate(c, &req) {
		return
	}

	entry, err := h.ledger.Install(requestContext(c), user.ID, c.Param("appId"), req.Name, req.Version)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, entry)
}

// POST /api/v1/user-software/:appId/update
func (h *SoftwareHandler) Update(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req updateRequest
	if c.Request.ContentLength != 0 && !bindAndValidate(c, &req) {
		return
	}

	entry, err := h.ledger.Update(requestContext(c), user.ID, c.Param("appId"), req.Version)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, entry)
}

// PUT /api/v1/user-software/:appId/status
func (h *SoftwareHandler) SetStatus(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req services.UpsertInput
	if !bindAndValidate(c, &req) {
		return
	}

	entry, err := h.ledger.UpsertStatus(requestContext(c), user.ID, c.Param("appId"), req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, entry)
}

// DELETE /api/v1/user-software/:appId
func (h *SoftwareHandler) Uninstall(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	entry, err := h.ledger.Uninstall(requestContext(c), user.ID, c.Param("appId"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, entry)
}
