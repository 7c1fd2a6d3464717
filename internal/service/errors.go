package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrUserExists          = errors.New("user already exists")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrInvalidOTP          = errors.New("invalid or expired OTP")
	ErrOTPNotVerified      = errors.New("OTP not verified")
	ErrOTPCooldown         = errors.New("OTP already sent, try again later")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrNoFeaturedProducts  = errors.New("no featured products found")
	ErrCheckoutInProgress  = errors.New("a checkout with this idempotency key is already in progress")
)

// ValidationError reports bad caller input. The message is safe to show.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ProductNotFoundError is returned when a product id does not resolve.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// InvalidQuantityError is returned for negative cart quantities.
type InvalidQuantityError struct {
	Quantity int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %d", e.Quantity)
}

// NotInCartError is returned when a mutation targets a product the cart does not hold.
type NotInCartError struct {
	ProductID int64
}

func (e *NotInCartError) Error() string {
	return fmt.Sprintf("product %d is not in the cart", e.ProductID)
}

// InvalidAmountError is returned when a checkout total is not positive.
type InvalidAmountError struct {
	Amount decimal.Decimal
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %s", e.Amount.StringFixed(2))
}

// PaymentInitiationError wraps a gateway initialization failure. The order
// it was raised for stays pending.
type PaymentInitiationError struct {
	PaymentRef string
	Err        error
}

func (e *PaymentInitiationError) Error() string {
	return fmt.Sprintf("payment initiation for %s failed: %v", e.PaymentRef, e.Err)
}

func (e *PaymentInitiationError) Unwrap() error { return e.Err }

// VerificationError wraps a failed attempt to reach the gateway's verify
// endpoint. It says nothing about the transaction itself.
type VerificationError struct {
	PaymentRef string
	Err        error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification of %s failed: %v", e.PaymentRef, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }
