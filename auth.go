// auth.go
// Login and registration state machine. A fresh connection walks
// server-password -> username -> password (or registration pair) and is
// promoted to an active session only after every check passes; any failure
// closes the socket with nothing registered.
//go:build !client

package main

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"log"
	"net"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const internalErrorLine = "An error occurred during login/registration. Connection closed."

// limiterTTL bounds how long an idle per-IP limiter survives; without
// eviction the map grows one entry per distinct remote IP forever.
const limiterTTL = 10 * time.Minute

type ipLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// limiterFor returns the pre-auth rate limiter for a remote IP, creating it
// on first contact. Idle entries are swept at most once per TTL.
func (s *Server) limiterFor(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if now.Sub(s.limiterSweep) > limiterTTL {
		for k, e := range s.limiters {
			if now.Sub(e.lastSeen) > limiterTTL {
				delete(s.limiters, k)
			}
		}
		s.limiterSweep = now
	}
	e, ok := s.limiters[ip]
	if !ok {
		e = &ipLimiter{lim: rate.NewLimiter(rate.Every(s.cfg.LoginEvery), s.cfg.LoginBurst)}
		s.limiters[ip] = e
	}
	e.lastSeen = now
	return e.lim
}

func validUsername(name string) bool {
	if len(name) < 1 || len(name) > 18 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

func remoteIP(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// handleLogin drives one connection through the login state machine. On
// success it registers the session and starts the persistent read loop;
// every other outcome closes the socket.
func (s *Server) handleLogin(rawConn net.Conn) {
	conn := newLockedConn(rawConn)
	addr := conn.RemoteAddr().String()
	ip := remoteIP(conn)
	log.Printf("[Auth] Connection attempt from %s", addr)

	if !s.limiterFor(ip).Allow() {
		sendLine(conn, "Too many connection attempts. Try again later.")
		log.Printf("[Auth] Throttled pre-auth connection from %s", addr)
		s.report(adminEvent{Event: "login_throttled", RemoteAddr: addr})
		loginsTotal.WithLabelValues("throttled").Inc()
		conn.Close()
		return
	}

	active := false
	defer func() {
		if !active {
			conn.Close()
		}
	}()

	br := bufio.NewReader(conn)
	readLine := func(timeout time.Duration) (string, bool) {
		conn.SetReadDeadline(time.Now().Add(timeout))
		line, err := br.ReadString('\n')
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				log.Printf("[Auth] Login/registration timeout from %s", addr)
				sendLine(conn, "Timeout during login/registration. Connection closed.")
			} else {
				log.Printf("[Auth] Connection lost during login from %s: %v", addr, err)
			}
			return "", false
		}
		return strings.TrimSpace(line), true
	}
	fail := func(reply, logMsg string) {
		sendLine(conn, reply)
		log.Printf("%s", logMsg)
		loginsTotal.WithLabelValues("failed").Inc()
	}

	sendLine(conn, "Enter server password: ")
	serverPW, ok := readLine(s.cfg.LoginTimeout)
	if !ok {
		return
	}
	if subtle.ConstantTimeCompare([]byte(serverPW), []byte(s.cfg.Password)) != 1 {
		fail("Incorrect server password.", "[Auth] Failed server password attempt from "+addr)
		return
	}

	sendLine(conn, "Server password OK. Enter username: ")
	username, ok := readLine(2 * s.cfg.LoginTimeout)
	if !ok {
		return
	}
	if !validUsername(username) {
		fail("Username invalid (1-18 chars, alphanumeric, _, -).",
			"[Auth] Invalid username attempt from "+addr+": "+username)
		return
	}

	// Duplicate-login guard: online presence, distinct from existence in
	// the credential store.
	if s.isActive(username) {
		fail("Username already logged in.",
			"[Auth] Duplicate login attempt from "+addr+" for user "+username)
		return
	}

	exists, err := s.store.UserExists(username)
	if err != nil {
		log.Printf("[Auth Error] user lookup for %q: %v", username, err)
		sendLine(conn, internalErrorLine)
		return
	}

	result := "success"
	if exists {
		sendLine(conn, "Username OK. Enter password: ")
		password, ok := readLine(2 * s.cfg.LoginTimeout)
		if !ok {
			return
		}
		match, err := s.store.Verify(username, password)
		if err != nil {
			log.Printf("[Auth Error] verify for %q: %v", username, err)
			sendLine(conn, internalErrorLine)
			return
		}
		if !match {
			fail("Incorrect password.",
				"[Auth] Failed password for user "+username+" from "+addr)
			return
		}
	} else {
		if !s.cfg.AllowRegistration {
			fail("User registration is not enabled on this server.",
				"[Auth] Registration disabled, rejected new user "+username+" from "+addr)
			return
		}
		sendLine(conn, "Username not found. Enter password in format 'new_password:new_password' to register: ")
		pair, ok := readLine(2 * s.cfg.LoginTimeout)
		if !ok {
			return
		}
		first, second, found := strings.Cut(pair, ":")
		if !found || first == "" || first != second {
			fail("Invalid registration password format or passwords do not match.",
				"[Auth] Invalid registration attempt for "+username+" from "+addr)
			return
		}
		if err := s.store.Register(username, first); err != nil {
			log.Printf("[Auth Error] register %q: %v", username, err)
			sendLine(conn, internalErrorLine)
			return
		}
		log.Printf("[Auth] User %q registered from %s", username, addr)
		result = "registered"
	}

	// The read loop blocks indefinitely; only the login phase is bounded.
	conn.SetReadDeadline(time.Time{})

	// Re-checked insert: a racing login for the same name may have won
	// since the guard above.
	if !s.addSession(conn, username) {
		fail("Username already logged in.",
			"[Auth] Duplicate login race lost by "+addr+" for user "+username)
		return
	}
	active = true
	loginsTotal.WithLabelValues(result).Inc()

	if result == "registered" {
		sendLine(conn, "Registration successful.")
	} else {
		sendLine(conn, "Login successful.")
	}
	log.Printf("[Connect] %s joined from %s", username, addr)

	sendLine(conn, formatLine("[Welcome]", "Welcome to "+s.cfg.Name+", "+username+"!"))
	if isOp, err := s.store.IsOperator(username); err == nil && isOp {
		sendLine(conn, formatLine("[Info]", "You are logged in as an Operator."))
	}
	s.broadcast(formatLine("[Info]", username+" has joined the chat!"), conn)

	// The session loop takes over br: bytes a client pipelined behind the
	// last handshake line are already buffered there.
	go s.handleClient(conn, br, username)
}
