package models

import "github.com/google/uuid"

// All lists every persisted model, in dependency order, for SQLite auto-migration.
func All() []any {
	return []any{
		&Account{},
		&Job{},
		&Transaction{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}

func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
