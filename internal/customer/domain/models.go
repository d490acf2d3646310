// Package domain contains the customer read model consumed by billing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Customer is owned by the CRM layer; billing reads identity, country
// (tax jurisdiction) and tenure.
type Customer struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Name      string       `gorm:"type:text;not null"`
	Email     string       `gorm:"type:text;not null"`
	Country   string       `gorm:"type:text;not null;default:''"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Customer) TableName() string { return "customers" }
