// Package store persists user credentials and the operator set in a single
// SQLite database. Passwords are hashed with argon2id using a random
// per-user salt; the database never holds a recoverable password.
package store

import (
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/argon2"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
  username TEXT PRIMARY KEY,
  salt TEXT NOT NULL,
  pass_hash TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS operators (
  username TEXT PRIMARY KEY
);
`

// argon2id parameters: one pass over 64 MiB with four lanes.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// Store is a durable username->credential map plus a durable operator set.
// A mutation is committed before the corresponding method returns.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// UserExists reports whether a credential record exists for username.
func (s *Store) UserExists(username string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM users WHERE username = ?", username).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Register creates a credential record for a new user. It fails if the
// username is already taken.
func (s *Store) Register(username, password string) error {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	hash := deriveHash(password, salt)
	_, err := s.db.Exec(
		"INSERT INTO users(username, salt, pass_hash, created_at) VALUES(?,?,?,?)",
		username,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
		time.Now().Unix())
	return err
}

// Verify reports whether password matches the stored credential for
// username. An unknown username verifies as false without error.
func (s *Store) Verify(username, password string) (bool, error) {
	var saltB64, hashB64 string
	err := s.db.QueryRow("SELECT salt, pass_hash FROM users WHERE username = ?", username).
		Scan(&saltB64, &hashB64)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	salt, err := base64.RawStdEncoding.DecodeString(saltB64)
	if err != nil {
		return false, err
	}
	stored, err := base64.RawStdEncoding.DecodeString(hashB64)
	if err != nil {
		return false, err
	}
	derived := deriveHash(password, salt)
	return subtle.ConstantTimeCompare(derived, stored) == 1, nil
}

// IsOperator reports whether username is in the operator set.
func (s *Store) IsOperator(username string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM operators WHERE username = ?", username).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Grant adds username to the operator set. Granting an existing operator is
// a no-op.
func (s *Store) Grant(username string) error {
	_, err := s.db.Exec("INSERT OR IGNORE INTO operators(username) VALUES(?)", username)
	return err
}

// Revoke removes username from the operator set.
func (s *Store) Revoke(username string) error {
	_, err := s.db.Exec("DELETE FROM operators WHERE username = ?", username)
	return err
}

// Operators returns every operator username, sorted.
func (s *Store) Operators() ([]string, error) {
	rows, err := s.db.Query("SELECT username FROM operators ORDER BY username ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ops []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		ops = append(ops, name)
	}
	return ops, rows.Err()
}

// CountUsers returns the number of registered users.
func (s *Store) CountUsers() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}

// CountOperators returns the size of the operator set.
func (s *Store) CountOperators() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM operators").Scan(&n)
	return n, err
}

func deriveHash(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}
