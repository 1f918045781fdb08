package models

import (
	"time"

	"github.com/google/uuid"
)

// Organisation is a tenant. Integration configurations and access tokens are scoped to it.
type Organisation struct {
	ID        int64     `json:"id"`
	UUID      uuid.UUID `json:"uuid"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
