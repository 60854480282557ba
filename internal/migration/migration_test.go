package migration

import (
	"regexp"
	"sync"
	"testing"

	bookdomain "github.com/smallbiznis/bookvault/internal/book/domain"
	orderdomain "github.com/smallbiznis/bookvault/internal/order/domain"
	paymentdomain "github.com/smallbiznis/bookvault/internal/payment/domain"
	"gorm.io/gorm/schema"
)

// Postgres deployments get their schema from the versioned SQL while every
// other dialect auto-migrates the models, so the two must not drift apart.
func TestInitMigrationCoversModelColumns(t *testing.T) {
	raw, err := embeddedMigrations.ReadFile("migrations/0001_init.up.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sql := string(raw)

	models := []interface{}{
		&bookdomain.Book{},
		&orderdomain.Order{},
		&orderdomain.Purchase{},
		&orderdomain.RateLimitBucket{},
		&paymentdomain.WebhookEvent{},
		&paymentdomain.PaymentLog{},
		&paymentdomain.Refund{},
	}

	cache := &sync.Map{}
	for _, model := range models {
		parsed, err := schema.Parse(model, cache, schema.NamingStrategy{})
		if err != nil {
			t.Fatalf("parse %T: %v", model, err)
		}

		block := tableBlock(t, sql, parsed.Table)
		for _, field := range parsed.Fields {
			if field.DBName == "" {
				continue
			}
			declared := regexp.MustCompile(`(?m)^\s+` + regexp.QuoteMeta(field.DBName) + `\s`)
			if !declared.MatchString(block) {
				t.Errorf("table %s: column %s missing from migration", parsed.Table, field.DBName)
			}
		}
	}
}

func tableBlock(t *testing.T, sql, table string) string {
	t.Helper()
	re := regexp.MustCompile(`(?s)CREATE TABLE IF NOT EXISTS ` + regexp.QuoteMeta(table) + ` \((.*?)\n\);`)
	m := re.FindStringSubmatch(sql)
	if m == nil {
		t.Fatalf("table %s not found in migration", table)
	}
	return m[1]
}
