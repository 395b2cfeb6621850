// commands.go
// Per-client read loop and command dispatcher. Input is strictly
// line-oriented server-side; every line is either a /command or a chat
// message handed to the broadcast engine.
//go:build !client

package main

import (
	"bufio"
	"log"
	"strconv"
	"strings"
)

const maxMessageLen = 512

const helpText = `Available Commands:
  /help                 Show this help message
  /list                 List connected users
  /files <username>     List files uploaded by a user
  /upload <path>        Upload a file (copies from a SERVER-side path, not your machine)
  /download <user> <fn> Download a file from a user
  /delete <filename>    Delete one of your uploaded files
  /exit                 Disconnect from the server

Operator Commands (require OP status):
  /kick <user> [reason] Kick a user
  /op <username>        Make a registered user an operator
  /deop <username>      Remove operator status from a user
  /listops              List current server operators
  /delete <user> <fn>   Delete a file from the specified user
  /stop                 Stop the server
  /restart              Restart the server (exits for the supervisor to re-exec)`

// handleClient is the persistent read loop of one active session. It blocks
// on the socket with no deadline; a peer close, protocol error, kick, or
// server shutdown unblocks it. br is the login phase's reader, carried over
// so input pipelined behind the last handshake line is not lost.
func (s *Server) handleClient(conn *lockedConn, br *bufio.Reader, username string) {
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			break
		}
		msg := strings.TrimSpace(line)
		if msg == "" {
			continue
		}
		if !s.dispatch(conn, username, msg) {
			break
		}
	}

	// Only broadcast a leave notice if this loop is the one that removed
	// the session; a kick or shutdown has its own messaging.
	if user, ok := s.removeSession(conn); ok {
		log.Printf("[Disconnect] %s disconnected", user)
		s.broadcast(formatLine("[Info]", user+" has left the chat."), nil)
	}
	conn.Close()
}

// dispatch routes one input line. It returns false when the session should
// end (/exit).
func (s *Server) dispatch(conn *lockedConn, username, msg string) bool {
	if !strings.HasPrefix(msg, "/") {
		if len(msg) > maxMessageLen {
			sendLine(conn, formatLine("[Error]", "Message cannot exceed "+strconv.Itoa(maxMessageLen)+" characters."))
			return true
		}
		log.Printf("[Chat] <%s> %s", username, msg)
		s.broadcast(formatLine("["+username+"]", msg), conn)
		return true
	}

	cmd := strings.ToLower(strings.SplitN(msg, " ", 2)[0])
	log.Printf("[Command] %s issued: %s", username, msg)

	switch cmd {
	case "/upload":
		parts := strings.SplitN(msg, " ", 2)
		if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
			sendLine(conn, formatLine("[Usage]", "Usage: /upload <server_source_filepath>"))
			return true
		}
		s.handleUploadFromServerPath(conn, username, strings.TrimSpace(parts[1]))

	case "/download":
		parts := strings.SplitN(msg, " ", 3)
		if len(parts) < 3 {
			sendLine(conn, formatLine("[Usage]", "Usage: /download <username> <filename>"))
			return true
		}
		s.handleDownload(conn, username, parts[1], strings.Trim(parts[2], `"`))

	case "/files":
		parts := strings.SplitN(msg, " ", 2)
		if len(parts) < 2 {
			sendLine(conn, formatLine("[Usage]", "Usage: /files <username>"))
			return true
		}
		s.handleListFiles(conn, username, parts[1])

	case "/delete":
		s.handleDelete(conn, username, strings.Fields(msg))

	case "/list":
		users := s.activeUsers()
		sendLine(conn, formatLine("[Users]",
			"Connected users ("+strconv.Itoa(len(users))+"): "+strings.Join(users, ", ")))

	case "/help":
		sendLine(conn, helpText)

	case "/exit":
		log.Printf("[Connection] %s sent /exit", username)
		return false

	case "/kick", "/op", "/deop", "/listops", "/stop", "/restart":
		isOp, err := s.store.IsOperator(username)
		if err != nil {
			log.Printf("[Error] operator lookup for %s: %v", username, err)
			sendLine(conn, formatLine("[Error]", "An internal server error occurred."))
			return true
		}
		if !isOp {
			sendLine(conn, formatLine("[Error]", "You do not have permission to execute this command."))
			return true
		}
		s.handleOperatorCommand(conn, username, msg)

	default:
		sendLine(conn, formatLine("[Error]", "Unknown command: "+cmd))
	}
	return true
}
