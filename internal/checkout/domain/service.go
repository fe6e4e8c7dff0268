package domain

import (
	"context"
	"errors"
	"time"
)

type Mode string

const (
	ModePayment      Mode = "payment"
	ModeSubscription Mode = "subscription"
)

// CreateSessionRequest describes one hosted checkout. UserID comes from the
// authenticated actor, never from the request body.
type CreateSessionRequest struct {
	UserID      string `json:"-"`
	Mode        Mode   `json:"mode"`
	PriceID     string `json:"price_id"`
	Quantity    int64  `json:"quantity"`
	ProductID   string `json:"product_id"`
	ProductType string `json:"product_type"`
	PlanID      string `json:"plan_id"`
	Interval    string `json:"interval"`
	AffiliateID string `json:"affiliate_id"`
	SaleID      string `json:"sale_id"`
	SuccessURL  string `json:"success_url"`
	CancelURL   string `json:"cancel_url"`
}

type Session struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Mode      Mode      `json:"mode"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Service interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (Session, error)
}

var (
	ErrInvalidUser           = errors.New("invalid_user")
	ErrInvalidMode           = errors.New("invalid_mode")
	ErrInvalidPrice          = errors.New("invalid_price")
	ErrInvalidQuantity       = errors.New("invalid_quantity")
	ErrInvalidPlan           = errors.New("invalid_plan")
	ErrInvalidInterval       = errors.New("invalid_interval")
	ErrInvalidAffiliate      = errors.New("invalid_affiliate")
	ErrInvalidRedirectURL    = errors.New("invalid_redirect_url")
	ErrCheckoutNotConfigured = errors.New("checkout_not_configured")
)

// IsValidationError reports errors caused by the request itself.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidUser,
		ErrInvalidMode,
		ErrInvalidPrice,
		ErrInvalidQuantity,
		ErrInvalidPlan,
		ErrInvalidInterval,
		ErrInvalidAffiliate,
		ErrInvalidRedirectURL,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
