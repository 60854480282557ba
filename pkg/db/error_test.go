package db

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection reset")))

	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(errors.New(`duplicate key value violates unique constraint "uq_orders_order_number"`)))
	assert.True(t, IsDuplicateKeyErr(errors.New("Error 1062: Duplicate entry 'ORD-1' for key 'uq_orders_order_number'")))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: orders.order_number")))
}

func TestIsDuplicateKeyErrTranslatedSentinel(t *testing.T) {
	// Drivers with an ErrorTranslator collapse every unique violation into
	// the bare sentinel; the constraint name is gone by the time callers
	// see the error.
	err := gorm.ErrDuplicatedKey
	assert.True(t, IsDuplicateKeyErr(err))
	assert.NotContains(t, err.Error(), "idempotency_key")
	assert.NotContains(t, err.Error(), "order_number")
}
