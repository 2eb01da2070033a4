package types

import "time"

// Persona is the per-user context the digest engine reads.
type Persona struct {
	UserID        string          `bun:",pk"        json:"userId"`
	LastActive    time.Time       `bun:",nullzero"  json:"lastActive"`
	AutonomyFlags map[string]bool `bun:"type:jsonb" json:"autonomyFlags"`
	UpdatedAt     time.Time       `bun:",notnull"   json:"updatedAt"`
}
