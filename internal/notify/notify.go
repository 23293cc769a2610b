package notify

import (
	"context"

	"github.com/Nbruchi/amazon-server/internal/models"
)

// Dispatcher delivers user-facing notifications. Every call is best-effort:
// callers log and swallow errors instead of propagating them, so a dead
// broker can never fail a committed checkout.
type Dispatcher interface {
	OrderConfirmation(ctx context.Context, user *models.User, order *models.Order) error
	Welcome(ctx context.Context, user *models.User) error
	OTP(ctx context.Context, user *models.User, code string) error
}

// NopDispatcher drops every notification. Used in tests and when no broker
// is configured.
type NopDispatcher struct{}

func (NopDispatcher) OrderConfirmation(ctx context.Context, user *models.User, order *models.Order) error {
	return nil
}

func (NopDispatcher) Welcome(ctx context.Context, user *models.User) error {
	return nil
}

func (NopDispatcher) OTP(ctx context.Context, user *models.User, code string) error {
	return nil
}
