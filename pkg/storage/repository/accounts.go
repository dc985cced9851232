package repository

import (
	"context"
	"time"
)

// Account is a WhatsApp Business account onboarded through embedded signup.
type Account struct {
	WABAID        string    `json:"waba_id"`
	PhoneNumberID string    `json:"phone_number_id"`
	BusinessID    string    `json:"business_id"`
	Code          string    `json:"-"`
	SessionID     string    `json:"session_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AccountRepository defines the interface for onboarded account persistence.
type AccountRepository interface {
	// Save creates or updates an account keyed by WABAID.
	// Handles timestamp management (CreatedAt, UpdatedAt).
	Save(ctx context.Context, acc Account) error

	// Get returns nil if the account is not found.
	Get(ctx context.Context, wabaID string) (*Account, error)

	// List returns all accounts, most recently updated first.
	List(ctx context.Context) ([]Account, error)

	// Delete returns sql.ErrNoRows if the account is not found.
	Delete(ctx context.Context, wabaID string) error
}
