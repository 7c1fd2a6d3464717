// Package coupon validates user-scoped discount codes.
package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"storefront/internal/models"
)

var (
	// ErrCouponNotFound is returned when the user has no active coupon with the code.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrCouponExpired is returned when the coupon's validity window has elapsed.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrInvalidDiscount is returned when the stored percentage is outside [0,100].
	ErrInvalidDiscount = errors.New("coupon discount must be between 0 and 100")
)

// Repository provides coupon lookups scoped to a user. Implementations return
// ErrCouponNotFound when nothing matches.
type Repository interface {
	FindActiveCoupon(ctx context.Context, code string, userID int64) (*models.Coupon, error)
	LatestActiveCoupon(ctx context.Context, userID int64, now time.Time) (*models.Coupon, error)
}

// Validator validates a coupon code for a user.
type Validator interface {
	Validate(ctx context.Context, code string, userID int64) (*models.Coupon, error)
}

// RepoValidator implements Validator on top of a Repository.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

var _ Validator = (*RepoValidator)(nil)

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate returns the user's coupon for code if it exists, has not expired
// and carries a usable percentage. Nothing is written back.
func (v *RepoValidator) Validate(ctx context.Context, code string, userID int64) (*models.Coupon, error) {
	if code == "" {
		return nil, ErrCouponNotFound
	}

	c, err := v.repo.FindActiveCoupon(ctx, code, userID)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if err := v.check(c); err != nil {
		return nil, err
	}
	return c, nil
}

// MyCoupon returns the newest usable coupon owned by the user.
func (v *RepoValidator) MyCoupon(ctx context.Context, userID int64) (*models.Coupon, error) {
	c, err := v.repo.LatestActiveCoupon(ctx, userID, v.now())
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, errors.Wrap(err, "lookup latest coupon")
	}
	if err := v.check(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (v *RepoValidator) check(c *models.Coupon) error {
	if !c.ExpiresAt.IsZero() && v.now().After(c.ExpiresAt) {
		return ErrCouponExpired
	}
	if c.DiscountPercentage < 0 || c.DiscountPercentage > 100 {
		return ErrInvalidDiscount
	}
	return nil
}
