// admin.go
// Operator administration: kick, op/deop, listops, stop, restart. Shared
// state is mutated under the registry lock; notifications, persistence, and
// any other socket I/O happen after the lock is released.
//go:build !client

package main

import (
	"log"
	"net"
	"strings"
	"time"
)

// replyFunc delivers a prefixed status line to whoever issued the command:
// a remote operator's socket or the server console.
type replyFunc func(prefix, msg string)

// handleOperatorCommand dispatches a privileged command from a remote
// operator. Gating happened in dispatch.
func (s *Server) handleOperatorCommand(conn net.Conn, issuer, msg string) {
	parts := strings.SplitN(msg, " ", 3)
	cmd := strings.ToLower(parts[0])
	reply := func(prefix, m string) { sendLine(conn, formatLine(prefix, m)) }

	switch cmd {
	case "/kick":
		if len(parts) < 2 {
			reply("[Usage]", "Usage: /kick <username> [reason]")
			return
		}
		reason := ""
		if len(parts) > 2 {
			reason = parts[2]
		}
		s.kickUser(issuer, parts[1], reason, reply)
	case "/op":
		if len(parts) != 2 {
			reply("[Usage]", "Usage: /op <username>")
			return
		}
		s.grantOp(issuer, parts[1], reply)
	case "/deop":
		if len(parts) != 2 {
			reply("[Usage]", "Usage: /deop <username>")
			return
		}
		s.revokeOp(issuer, parts[1], reply)
	case "/listops":
		s.listOps(reply)
	case "/stop":
		s.beginShutdown(issuer, false)
	case "/restart":
		s.beginShutdown(issuer, true)
	}
}

// kickUser removes the target's session and closes its socket. The kick
// notice is delivered best-effort under a short write deadline; failing to
// deliver it never blocks removal.
func (s *Server) kickUser(issuer, target, reason string, reply replyFunc) {
	if reason == "" {
		reason = "No reason specified."
	}
	if target == issuer {
		reply("[Error]", "You cannot kick yourself.")
		return
	}

	s.mu.Lock()
	var victim net.Conn
	for c, sess := range s.sessions {
		if sess.user == target {
			victim = c
			break
		}
	}
	if victim != nil {
		delete(s.sessions, victim)
		activeSessions.Dec()
	}
	s.mu.Unlock()

	if victim == nil {
		reply("[Error]", "User '"+target+"' not found online.")
		return
	}

	victim.SetWriteDeadline(time.Now().Add(500 * time.Millisecond))
	sendLine(victim, formatLine("[Kick]", "You have been kicked by "+issuer+". Reason: "+reason))
	victim.Close()

	log.Printf("[Kick] %s kicked %s. Reason: %s", issuer, target, reason)
	s.broadcast(formatLine("[Info]", target+" was kicked by "+issuer+". Reason: "+reason), nil)
	s.report(adminEvent{Event: "kick", Username: target, Reason: reason + " (by " + issuer + ")"})
}

// grantOp adds target to the durable operator set. The target must be a
// registered user but need not be online; if online, they are notified
// after the mutation is persisted.
func (s *Server) grantOp(issuer, target string, reply replyFunc) {
	if target == issuer {
		reply("[Error]", "You cannot op yourself.")
		return
	}
	exists, err := s.store.UserExists(target)
	if err != nil {
		reply("[Error]", "An internal server error occurred.")
		log.Printf("[OP Error] user lookup for %s: %v", target, err)
		return
	}
	if !exists {
		reply("[Error]", "User '"+target+"' does not exist (must be registered).")
		return
	}
	isOp, err := s.store.IsOperator(target)
	if err == nil && isOp {
		reply("[Info]", "User '"+target+"' is already an operator.")
		return
	}
	if err := s.store.Grant(target); err != nil {
		reply("[Error]", "An internal server error occurred.")
		log.Printf("[OP Error] granting %s: %v", target, err)
		return
	}

	reply("[Info]", "User '"+target+"' is now an operator.")
	log.Printf("[OP] %s opped %s", issuer, target)
	if c := s.findSession(target); c != nil {
		sendLine(c, formatLine("[Info]", "You have been promoted to Operator by "+issuer+"."))
	}
}

// revokeOp removes target from the operator set, notifying them if online.
func (s *Server) revokeOp(issuer, target string, reply replyFunc) {
	if target == issuer {
		reply("[Error]", "You cannot deop yourself.")
		return
	}
	isOp, err := s.store.IsOperator(target)
	if err != nil {
		reply("[Error]", "An internal server error occurred.")
		log.Printf("[DEOP Error] operator lookup for %s: %v", target, err)
		return
	}
	if !isOp {
		reply("[Error]", "User '"+target+"' is not an operator.")
		return
	}
	if err := s.store.Revoke(target); err != nil {
		reply("[Error]", "An internal server error occurred.")
		log.Printf("[DEOP Error] revoking %s: %v", target, err)
		return
	}

	reply("[Info]", "User '"+target+"' is no longer an operator.")
	log.Printf("[DEOP] %s de-opped %s", issuer, target)
	if c := s.findSession(target); c != nil {
		sendLine(c, formatLine("[Info]", "Your Operator status has been removed by "+issuer+"."))
	}
}

// listOps reports the operator set, sorted.
func (s *Server) listOps(reply replyFunc) {
	ops, err := s.store.Operators()
	if err != nil {
		reply("[Error]", "An internal server error occurred.")
		log.Printf("[Ops Error] listing operators: %v", err)
		return
	}
	if len(ops) == 0 {
		reply("[Ops]", "Current Operators: No operators defined.")
		return
	}
	reply("[Ops]", "Current Operators: "+strings.Join(ops, ", "))
}
