package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/softcenter/internal/services"
	"github.com/charlesng35/softcenter/pkg/response"
)

// AuthHandler manages account and session flows (signup/login/password reset/me).
type AuthHandler struct {
	credentials *services.CredentialService
	sessions    *services.SessionService
}

func NewAuthHandler(credentials *services.CredentialService, sessions *services.SessionService) *AuthHandler {
	return &AuthHandler{credentials: credentials, sessions: sessions}
}

type signupRequest struct {
	Name     string `json:"name" validate:"max=255"`
	Email    string `json:"email" validate:"omitempty,email,max=255"`
	Password string `json:"password" validate:"max=128"`
	Role     string `json:"role" validate:"omitempty,oneof=user admin"`
}

// POST /api/v1/auth/signup
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if _, err := h.credentials.Create(requestContext(c), req.Name, req.Email, req.Password, req.Role); err != nil {
		fail(c, err)
		return
	}

	response.Message(c, http.StatusCreated, "User created successfully")
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.sessions.Login(requestContext(c), req.Email, req.Password, req.Role)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

type forgotPasswordRequest struct {
	Email       string `json:"email" validate:"omitempty,email"`
	Role        string `json:"role"`
	NewPassword string `json:"newPassword" validate:"max=128"`
}

// POST /api/v1/auth/forgot-password
//
// In direct mode the password is overwritten immediately. In email mode a reset token
// is mailed to the account holder.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	switch h.credentials.ResetMode() {
	case services.ResetModeDirect:
		if err := h.credentials.ResetPassword(ctx, req.Email, req.Role, req.NewPassword); err != nil {
			fail(c, err)
			return
		}
		response.Message(c, http.StatusOK, "Password reset successful")
	case services.ResetModeEmail:
		if err := h.credentials.RequestPasswordReset(ctx, req.Email, req.Role); err != nil {
			fail(c, err)
			return
		}
		response.Message(c, http.StatusAccepted, "Password reset email sent")
	default:
		fail(c, services.ErrPasswordResetDisabled)
	}
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,max=128"`
}

// POST /api/v1/auth/reset-password
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.credentials.CompletePasswordReset(requestContext(c), req.Token, req.NewPassword); err != nil {
		fail(c, err)
		return
	}

	response.Message(c, http.StatusOK, "Password reset successful")
}

// GET /api/v1/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, services.SummaryOf(user))
}
