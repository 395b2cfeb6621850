// console_test.go
//go:build !client

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleMsgBroadcast(t *testing.T) {
	s := newTestServer(t)
	alice, bob := twoClients(t, s)

	s.dispatchConsole("/msg maintenance in five minutes")
	line := alice.expectContains("maintenance in five minutes")
	assert.Contains(t, line, "[Console]")
	bob.expectContains("maintenance in five minutes")
}

func TestConsoleKick(t *testing.T) {
	s := newTestServer(t)
	alice, bob := twoClients(t, s)

	s.dispatchConsole("/kick bob")
	bob.expectContains("You have been kicked by Console. Reason: Console Kick")
	bob.expectClosed()
	alice.expectContains("bob was kicked by Console.")
	assert.False(t, s.isActive("bob"))
}

func TestConsoleOpDeop(t *testing.T) {
	s := newTestServer(t)
	_, bob := twoClients(t, s)

	s.dispatchConsole("/op bob")
	bob.expectContains("You have been promoted to Operator by Console.")
	isOp, err := s.store.IsOperator("bob")
	require.NoError(t, err)
	assert.True(t, isOp)

	s.dispatchConsole("/deop bob")
	bob.expectContains("Your Operator status has been removed by Console.")
	isOp, err = s.store.IsOperator("bob")
	require.NoError(t, err)
	assert.False(t, isOp)
}

func TestConsoleUnknownCommandIsHarmless(t *testing.T) {
	s := newTestServer(t)
	alice, bob := twoClients(t, s)

	s.dispatchConsole("/bogus args")
	alice.expectSilence()
	bob.expectSilence()
	assert.Equal(t, 2, s.sessionCount())
}

func TestConsoleMsgUsage(t *testing.T) {
	s := newTestServer(t)
	alice, _ := twoClients(t, s)

	s.dispatchConsole("/msg")
	s.dispatchConsole("/msg   ")
	alice.expectSilence()
}
