package models

import "github.com/google/uuid"

// ensureID assigns a client-side id so inserts work on dialects without
// gen_random_uuid().
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
