package api

import (
	"net/http"

	"storefront/internal/auth"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
)

type phoneRequest struct {
	Phone string `json:"phone" binding:"required"`
}

// verifyOTPRequest carries a phone for signup codes or an email for
// password reset codes.
type verifyOTPRequest struct {
	Phone string `json:"phone"`
	Email string `json:"email"`
	OTP   string `json:"otp" binding:"required"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required"`
}

type resetPasswordRequest struct {
	Email       string `json:"email" binding:"required"`
	OTP         string `json:"otp" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type profileRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type passwordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

func (h *Handler) sendOTP(c *gin.Context) {
	var req phoneRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.auth.SendOTP(c.Request.Context(), req.Phone); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "OTP sent successfully"})
}

func (h *Handler) verifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if !bindJSON(c, &req) {
		return
	}
	var err error
	switch {
	case req.Email != "":
		err = h.auth.VerifyResetOTP(c.Request.Context(), req.Email, req.OTP)
	case req.Phone != "":
		err = h.auth.VerifyOTP(c.Request.Context(), req.Phone, req.OTP)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Phone or email is required"})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "OTP verified successfully"})
}

func (h *Handler) forgotPassword(c *gin.Context) {
	var req emailRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.auth.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "If the account exists, a reset code has been sent"})
}

func (h *Handler) resetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.auth.ResetPassword(c.Request.Context(), req.Email, req.OTP, req.NewPassword); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password reset successfully"})
}

func (h *Handler) signup(c *gin.Context) {
	var req service.SignupRequest
	if !bindJSON(c, &req) {
		return
	}
	user, pair, err := h.auth.Signup(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	auth.SetTokenCookies(c, pair, h.secureCookies)
	c.JSON(http.StatusCreated, user)
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	user, pair, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	auth.SetTokenCookies(c, pair, h.secureCookies)
	c.JSON(http.StatusOK, user)
}

func (h *Handler) logout(c *gin.Context) {
	if token, err := c.Cookie(auth.RefreshCookie); err == nil && token != "" {
		if err := h.auth.Logout(c.Request.Context(), token); err != nil {
			h.writeError(c, err)
			return
		}
	}
	auth.ClearTokenCookies(c, h.secureCookies)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

func (h *Handler) refreshToken(c *gin.Context) {
	token, err := c.Cookie(auth.RefreshCookie)
	if err != nil || token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "No refresh token provided"})
		return
	}
	access, exp, err := h.auth.Refresh(c.Request.Context(), token)
	if err != nil {
		h.writeError(c, err)
		return
	}
	auth.SetAccessCookie(c, access, exp, h.secureCookies)
	c.JSON(http.StatusOK, gin.H{"message": "Token refreshed successfully"})
}

func (h *Handler) profile(c *gin.Context) {
	user, err := h.auth.Profile(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) me(c *gin.Context) {
	c.JSON(http.StatusOK, auth.CurrentUser(c))
}

func (h *Handler) updateProfile(c *gin.Context) {
	var req profileRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.auth.UpdateProfile(c.Request.Context(), auth.UserID(c), req.Name, req.Phone)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) changePassword(c *gin.Context) {
	var req passwordRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.auth.ChangePassword(c.Request.Context(), auth.UserID(c), req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(c, err)
		return
	}
	auth.ClearTokenCookies(c, h.secureCookies)
	c.JSON(http.StatusOK, gin.H{"message": "Password updated, please log in again"})
}
