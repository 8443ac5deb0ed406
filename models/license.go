package models

import (
	"strings"
	"time"
)

type License struct {
	ID                    string    `json:"id"`
	Key                   string    `json:"license_key"`
	Email                 string    `json:"email"`
	Tier                  Tier      `json:"tier"`
	PurchasedMajorVersion int       `json:"purchased_major_version"`
	VersionsIncluded      int       `json:"versions_included"`
	StripeSessionID       string    `json:"stripe_session_id,omitempty"`
	StripeCustomerID      string    `json:"stripe_customer_id,omitempty"`
	StripeProductID       string    `json:"stripe_product_id,omitempty"`
	AmountPaid            int64     `json:"amount_paid"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// NormalizeEmail is applied both when a license is issued and when it is
// looked up by owner.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
