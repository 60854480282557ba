package service

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// number formats a human-readable order number: ORD-YYYYMMDD-XXXXXXXX, where
// the suffix is 8 characters of Crockford base32 entropy. Uniqueness is
// enforced by the orders.order_number constraint; collisions get one retry
// with fresh entropy.
func number(now time.Time) string {
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), suffix())
}

var (
	entropyMu sync.Mutex
	entropy   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func suffix() string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Now(), entropy)
	entropyMu.Unlock()
	return id.String()[ulid.EncodedSize-8:]
}
