package domain

import "time"

// Account is a registered shopper. Its ID is the user id every cart, order
// and remote catalog document is scoped by.
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}
