package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bookvault/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, transaction_ref, event_type, order_number, payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (transaction_ref, event_type) DO NOTHING`,
		event.ID,
		event.TransactionRef,
		event.EventType,
		event.OrderNumber,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, transactionRef string, eventType domain.EventType) (*domain.WebhookEvent, error) {
	var item domain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, transaction_ref, event_type, order_number, payload, received_at, processed_at
		 FROM webhook_events
		 WHERE transaction_ref = ? AND event_type = ?
		 LIMIT 1`,
		transactionRef,
		eventType,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET processed_at = ?
		 WHERE id = ?`,
		at,
		id,
	).Error
}

func (r *repo) InsertPaymentLog(ctx context.Context, tx *gorm.DB, log *domain.PaymentLog) error {
	return tx.WithContext(ctx).Create(log).Error
}

func (r *repo) ListPaymentLogs(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]domain.PaymentLog, error) {
	var logs []domain.PaymentLog
	err := db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *repo) InsertRefund(ctx context.Context, tx *gorm.DB, refund *domain.Refund) error {
	return tx.WithContext(ctx).Create(refund).Error
}

func (r *repo) FindRefundByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*domain.Refund, error) {
	var item domain.Refund
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, order_number, amount, reason, status, requested_by, created_at, resolved_at
		 FROM refunds
		 WHERE order_id = ?
		 LIMIT 1`,
		orderID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ResolveRefund(ctx context.Context, tx *gorm.DB, id snowflake.ID, status domain.RefundStatus, at time.Time) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE refunds
		 SET status = ?, resolved_at = ?
		 WHERE id = ? AND status = ?`,
		status,
		at,
		id,
		domain.RefundPending,
	)
	return res.RowsAffected > 0, res.Error
}
