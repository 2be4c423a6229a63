package storage

import "github.com/ignatij/goscout/pkg/storage"

// InitStore opens a Postgres store when connStr is set and falls back to
// the in-memory store otherwise.
func InitStore(connStr string) (storage.Store, error) {
	if connStr == "" {
		return storage.NewMemoryStore(), nil
	}
	store, err := NewPostgresStore(connStr)
	if err != nil {
		return nil, err
	}
	return store, nil
}
