package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Book is the slice of the catalog the payment engine needs: existence,
// purchasability, and the current price. Catalog CRUD lives elsewhere.
type Book struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Title     string       `json:"title" gorm:"type:text;not null"`
	Author    string       `json:"author" gorm:"type:text;not null"`
	Price     int64        `json:"price" gorm:"not null"`
	IsActive  bool         `json:"is_active" gorm:"not null;default:true"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (Book) TableName() string { return "books" }

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Book, error)
}
