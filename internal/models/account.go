package models

import (
	"time"

	"github.com/google/uuid"
)

// Account is an identity from the account directory.
type Account struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
