package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the persistence surface for orders, purchases and the
// per-user creation bucket. Implementations are stateless; the caller passes
// the handle (plain db or open transaction) so multi-step flows can share
// one transaction.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByOrderNumber(ctx context.Context, db *gorm.DB, orderNumber string) (*Order, error)
	// FindByOrderNumberForUpdate locks the row for the duration of the
	// surrounding transaction on dialects that support it.
	FindByOrderNumberForUpdate(ctx context.Context, tx *gorm.DB, orderNumber string) (*Order, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, userID snowflake.ID, key string) (*Order, error)
	FindByGatewayRef(ctx context.Context, db *gorm.DB, ref string) (*Order, error)

	// MarkPaid performs the pending -> paid transition. Returns false when
	// the order was no longer pending, without error.
	MarkPaid(ctx context.Context, tx *gorm.DB, id snowflake.ID, paidAt time.Time) (bool, error)
	// TransitionFromPending moves a pending order to a terminal non-paid
	// status. Returns false when the guard did not match.
	TransitionFromPending(ctx context.Context, tx *gorm.DB, id snowflake.ID, to Status) (bool, error)
	// MarkRefunded performs the paid -> refunded transition.
	MarkRefunded(ctx context.Context, tx *gorm.DB, id snowflake.ID) (bool, error)
	// SetGatewayRef records the gateway-side identifiers after a successful
	// charge call.
	SetGatewayRef(ctx context.Context, db *gorm.DB, id snowflake.ID, ref, paymentURL string) error

	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, offset, limit int) ([]Order, int64, error)
	// ListExpiredPending returns up to limit pending orders whose expiry
	// deadline has passed at now.
	ListExpiredPending(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Order, error)

	HasPurchase(ctx context.Context, db *gorm.DB, userID, bookID snowflake.ID) (bool, error)
	FindPurchaseByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*Purchase, error)
	InsertPurchase(ctx context.Context, tx *gorm.DB, purchase *Purchase) error

	// ConsumeToken atomically takes one token from the user's creation
	// bucket, refilling it to capacity when the window has elapsed since the
	// last refill. Returns false when the bucket is empty.
	ConsumeToken(ctx context.Context, db *gorm.DB, userID snowflake.ID, capacity int, window time.Duration, now time.Time) (bool, error)
}
