// console.go
// Interactive operator console on the server's stdin. Shares the command
// vocabulary with remote operators, plus /msg and /stats. The console acts
// with operator privilege under the issuer name "Console".
//go:build !client

package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strings"
)

const consoleHelpText = `Server Console Commands:
  /list             List connected users
  /msg <message>    Send a message to all users as [Console]
  /kick <user> [reason] Kick a user
  /op <username>    Make a registered user an operator
  /deop <username>  Remove operator status
  /listops          List current operators
  /stats            Show server counters
  /stop             Stop the server gracefully
  /restart          Restart the server gracefully
  /help             Show this help message`

func (s *Server) consoleLoop(in io.Reader) {
	fmt.Println("Server console ready. Type /help for commands.")
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			fmt.Println("Console commands must start with /")
			continue
		}
		s.dispatchConsole(line)
	}
	// EOF (ctrl-D) stops the server like /stop.
	log.Printf("[Console] EOF on console input, stopping server")
	s.beginShutdown("Console", false)
}

func (s *Server) dispatchConsole(line string) {
	parts := strings.SplitN(line, " ", 3)
	cmd := strings.ToLower(parts[0])
	reply := func(prefix, m string) { fmt.Printf("%s %s\n", prefix, m) }

	switch cmd {
	case "/kick":
		if len(parts) < 2 {
			fmt.Println("Usage: /kick <username> [reason]")
			return
		}
		reason := "Console Kick"
		if len(parts) > 2 {
			reason = parts[2]
		}
		s.kickUser("Console", parts[1], reason, reply)

	case "/op":
		if len(parts) != 2 {
			fmt.Println("Usage: /op <username>")
			return
		}
		s.grantOp("Console", parts[1], reply)

	case "/deop":
		if len(parts) != 2 {
			fmt.Println("Usage: /deop <username>")
			return
		}
		s.revokeOp("Console", parts[1], reply)

	case "/listops":
		s.listOps(reply)

	case "/msg":
		rest := strings.SplitN(line, " ", 2)
		if len(rest) < 2 || strings.TrimSpace(rest[1]) == "" {
			fmt.Println("Usage: /msg <message>")
			return
		}
		log.Printf("[Console MSG] %s", rest[1])
		s.broadcast(formatLine("[Console]", rest[1]), nil)

	case "/list":
		users := s.activeUsers()
		if len(users) == 0 {
			fmt.Println("No users connected.")
			return
		}
		fmt.Printf("Connected Users (%d):\n", len(users))
		for _, u := range users {
			fmt.Printf(" - %s\n", u)
		}

	case "/stats":
		users, _ := s.store.CountUsers()
		ops, _ := s.store.CountOperators()
		fmt.Printf("Active sessions: %d\n", s.sessionCount())
		fmt.Printf("Registered users: %d\n", users)
		fmt.Printf("Operators: %d\n", ops)

	case "/stop":
		s.beginShutdown("Console", false)

	case "/restart":
		s.beginShutdown("Console", true)

	case "/help":
		fmt.Println(consoleHelpText)

	default:
		fmt.Printf("Unknown console command: %s. Type /help for commands.\n", cmd)
	}
}
