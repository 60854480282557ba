package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bookvault/internal/order/domain"
	"github.com/smallbiznis/bookvault/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, order *domain.Order) error {
	return tx.WithContext(ctx).Create(order).Error
}

func (r *repo) FindByOrderNumber(ctx context.Context, dbc *gorm.DB, orderNumber string) (*domain.Order, error) {
	return r.findOne(ctx, dbc, "order_number = ?", orderNumber)
}

func (r *repo) FindByOrderNumberForUpdate(ctx context.Context, tx *gorm.DB, orderNumber string) (*domain.Order, error) {
	var order domain.Order
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("order_number = ?", orderNumber).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, dbc *gorm.DB, userID snowflake.ID, key string) (*domain.Order, error) {
	return r.findOne(ctx, dbc, "user_id = ? AND idempotency_key = ?", userID, key)
}

func (r *repo) FindByGatewayRef(ctx context.Context, dbc *gorm.DB, ref string) (*domain.Order, error) {
	return r.findOne(ctx, dbc, "gateway_order_ref = ?", ref)
}

func (r *repo) findOne(ctx context.Context, dbc *gorm.DB, query string, args ...any) (*domain.Order, error) {
	var order domain.Order
	err := dbc.WithContext(ctx).Where(query, args...).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repo) MarkPaid(ctx context.Context, tx *gorm.DB, id snowflake.ID, paidAt time.Time) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, paid_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusPaid, paidAt, paidAt, id, domain.StatusPending,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) TransitionFromPending(ctx context.Context, tx *gorm.DB, id snowflake.ID, to domain.Status) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		to, id, domain.StatusPending,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) MarkRefunded(ctx context.Context, tx *gorm.DB, id snowflake.ID) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		domain.StatusRefunded, id, domain.StatusPaid,
	)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) SetGatewayRef(ctx context.Context, dbc *gorm.DB, id snowflake.ID, ref, paymentURL string) error {
	return dbc.WithContext(ctx).Exec(
		`UPDATE orders
		 SET gateway_order_ref = ?, payment_url = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		ref, paymentURL, id,
	).Error
}

func (r *repo) ListByUser(ctx context.Context, dbc *gorm.DB, userID snowflake.ID, offset, limit int) ([]domain.Order, int64, error) {
	var total int64
	if err := dbc.WithContext(ctx).
		Model(&domain.Order{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []domain.Order
	err := dbc.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *repo) ListExpiredPending(ctx context.Context, dbc *gorm.DB, now time.Time, limit int) ([]domain.Order, error) {
	var orders []domain.Order
	err := dbc.WithContext(ctx).
		Where("status = ? AND expires_at < ?", domain.StatusPending, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) HasPurchase(ctx context.Context, dbc *gorm.DB, userID, bookID snowflake.ID) (bool, error) {
	var count int64
	err := dbc.WithContext(ctx).
		Model(&domain.Purchase{}).
		Where("user_id = ? AND book_id = ?", userID, bookID).
		Count(&count).Error
	return count > 0, err
}

func (r *repo) FindPurchaseByOrder(ctx context.Context, dbc *gorm.DB, orderID snowflake.ID) (*domain.Purchase, error) {
	var purchase domain.Purchase
	err := dbc.WithContext(ctx).Where("order_id = ?", orderID).First(&purchase).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

func (r *repo) InsertPurchase(ctx context.Context, tx *gorm.DB, purchase *domain.Purchase) error {
	return tx.WithContext(ctx).Create(purchase).Error
}

// ConsumeToken runs its own short transaction: lock the bucket row, refill
// when the window has elapsed, then take one token. Creation attempts spend
// a token whether or not they succeed.
func (r *repo) ConsumeToken(ctx context.Context, dbc *gorm.DB, userID snowflake.ID, capacity int, window time.Duration, now time.Time) (bool, error) {
	allowed := false
	err := dbc.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bucket domain.RateLimitBucket
		err := db.ForUpdate(tx).Where("user_id = ?", userID).First(&bucket).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			bucket = domain.RateLimitBucket{
				UserID:     userID,
				Tokens:     capacity - 1,
				RefilledAt: now,
			}
			if err := tx.Create(&bucket).Error; err != nil {
				if db.IsDuplicateKeyErr(err) {
					// Lost the race to create the bucket; the concurrent
					// attempt holds the first token.
					return nil
				}
				return err
			}
			allowed = true
			return nil
		case err != nil:
			return err
		}

		if now.Sub(bucket.RefilledAt) >= window {
			bucket.Tokens = capacity
			bucket.RefilledAt = now
		}
		if bucket.Tokens <= 0 {
			return nil
		}
		bucket.Tokens--
		allowed = true
		return tx.Save(&bucket).Error
	})
	return allowed, err
}
