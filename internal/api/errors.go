package api

import (
	"errors"
	"net/http"

	"storefront/internal/coupon"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError maps a service error to its HTTP status. Messages of known
// errors are shown verbatim; anything else is logged and hidden.
func (h *Handler) writeError(c *gin.Context, err error) {
	status, message := classify(err)
	if status >= http.StatusInternalServerError || status == http.StatusBadGateway {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": message})
}

func classify(err error) (int, string) {
	var (
		validation     *service.ValidationError
		badQuantity    *service.InvalidQuantityError
		badAmount      *service.InvalidAmountError
		noProduct      *service.ProductNotFoundError
		notInCart      *service.NotInCartError
		initiateFailed *service.PaymentInitiationError
		verifyFailed   *service.VerificationError
	)

	switch {
	case errors.As(err, &validation),
		errors.As(err, &badQuantity),
		errors.As(err, &badAmount),
		errors.Is(err, coupon.ErrInvalidDiscount),
		errors.Is(err, coupon.ErrCouponExpired),
		errors.Is(err, service.ErrInvalidOTP),
		errors.Is(err, service.ErrOTPNotVerified):
		return http.StatusBadRequest, err.Error()

	case errors.As(err, &noProduct),
		errors.As(err, &notInCart),
		errors.Is(err, coupon.ErrCouponNotFound),
		errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrNoFeaturedProducts):
		return http.StatusNotFound, err.Error()

	case errors.Is(err, service.ErrUserExists), errors.Is(err, service.ErrCheckoutInProgress):
		return http.StatusConflict, err.Error()

	case errors.Is(err, service.ErrOTPCooldown):
		return http.StatusTooManyRequests, err.Error()

	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, err.Error()

	case errors.Is(err, service.ErrInvalidRefreshToken):
		return http.StatusForbidden, err.Error()

	case errors.As(err, &initiateFailed):
		return http.StatusBadGateway, "Payment initialization failed"

	case errors.As(err, &verifyFailed):
		return http.StatusBadGateway, "Payment verification failed"
	}

	return http.StatusInternalServerError, "Internal server error"
}
