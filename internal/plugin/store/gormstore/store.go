// Package gormstore implements the MemoryStore contract on top of GORM.
// Backend packages (postgres, sqlite) open the connection, run migrations,
// and supply a VectorOps strategy for embedding storage and similarity search.
package gormstore

import (
	"gorm.io/gorm"
)

// Store is a GORM-backed MemoryStore. Safe for concurrent use.
type Store struct {
	db      *gorm.DB
	vectors VectorOps
}

// New creates a Store over an open GORM connection.
func New(db *gorm.DB, vectors VectorOps) *Store {
	return &Store{db: db, vectors: vectors}
}

// DB exposes the underlying connection for backend-specific migrations.
func (s *Store) DB() *gorm.DB { return s.db }
