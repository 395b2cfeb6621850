package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegisterAndVerify(t *testing.T) {
	s := openTestStore(t)

	exists, err := s.UserExists("alice")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Register("alice", "hunter2"))

	exists, err = s.UserExists("alice")
	require.NoError(t, err)
	assert.True(t, exists)

	ok, err := s.Verify("alice", "hunter2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Verify("alice", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyUnknownUser(t *testing.T) {
	s := openTestStore(t)
	ok, err := s.Verify("nobody", "whatever")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegisterDuplicateFails(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Register("alice", "one"))
	err := s.Register("alice", "two")
	require.Error(t, err)

	// The original credential is untouched.
	ok, err := s.Verify("alice", "one")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOperatorSet(t *testing.T) {
	s := openTestStore(t)

	isOp, err := s.IsOperator("alice")
	require.NoError(t, err)
	assert.False(t, isOp)

	require.NoError(t, s.Grant("alice"))
	require.NoError(t, s.Grant("alice")) // idempotent
	require.NoError(t, s.Grant("bob"))

	isOp, err = s.IsOperator("alice")
	require.NoError(t, err)
	assert.True(t, isOp)

	ops, err := s.Operators()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, ops)

	require.NoError(t, s.Revoke("alice"))
	isOp, err = s.IsOperator("alice")
	require.NoError(t, err)
	assert.False(t, isOp)

	n, err := s.CountOperators()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Register("carol", "secret"))
	require.NoError(t, s.Grant("carol"))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	ok, err := s2.Verify("carol", "secret")
	require.NoError(t, err)
	assert.True(t, ok)

	isOp, err := s2.IsOperator("carol")
	require.NoError(t, err)
	assert.True(t, isOp)
}

func TestCounts(t *testing.T) {
	s := openTestStore(t)

	n, err := s.CountUsers()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.Register("a", "x"))
	require.NoError(t, s.Register("b", "x"))

	n, err = s.CountUsers()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSaltsDiffer(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Register("u1", "same-password"))
	require.NoError(t, s.Register("u2", "same-password"))

	var h1, h2 string
	require.NoError(t, s.db.QueryRow("SELECT pass_hash FROM users WHERE username = 'u1'").Scan(&h1))
	require.NoError(t, s.db.QueryRow("SELECT pass_hash FROM users WHERE username = 'u2'").Scan(&h2))
	assert.NotEqual(t, h1, h2)
}
