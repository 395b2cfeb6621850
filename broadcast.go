// broadcast.go
//go:build !client

package main

import (
	"log"
	"net"
)

// broadcast fans message out to every active session except exclude. It
// takes a point-in-time snapshot of the registry, sends with the lock
// released so one slow or dead peer cannot stall the others, then removes
// and closes every peer that failed mid-send in a single locked pass.
func (s *Server) broadcast(message string, exclude net.Conn) {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.sessions))
	for c := range s.sessions {
		if c != exclude {
			conns = append(conns, c)
		}
	}
	s.mu.Unlock()

	broadcastsTotal.Inc()

	var dead []net.Conn
	for _, c := range conns {
		if err := sendLine(c, message); err != nil {
			dead = append(dead, c)
		}
	}
	if len(dead) == 0 {
		return
	}

	s.mu.Lock()
	for _, c := range dead {
		if sess, ok := s.sessions[c]; ok {
			log.Printf("[Broadcast] Removing disconnected client: %s", sess.user)
			delete(s.sessions, c)
			activeSessions.Dec()
		}
	}
	s.mu.Unlock()

	// Close outside the lock; the victim's read loop unblocks and finds
	// its session already gone.
	for _, c := range dead {
		c.Close()
	}
}
