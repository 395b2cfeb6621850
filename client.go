// client.go
// chathub terminal client: plaintext line protocol with ANSI rendering,
// hidden password entry, and support for receiving FILE_TRANSFER frames.
//go:build client

package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"chathub/proto"
)

// ANSI color codes
const (
	colorReset   = "\033[0m"
	colorRed     = "\033[31m"
	colorGreen   = "\033[32m"
	colorYellow  = "\033[33m"
	colorMagenta = "\033[35m"
	colorCyan    = "\033[36m"
	colorWhite   = "\033[37m"
	colorDim     = "\033[2m"
)

func printSuccess(msg string) {
	fmt.Printf("%s✓ %s%s\n", colorGreen, msg, colorReset)
}

func printError(msg string) {
	fmt.Printf("%s✗ %s%s\n", colorRed, msg, colorReset)
}

func printWarning(msg string) {
	fmt.Printf("%s⚠ %s%s\n", colorYellow, msg, colorReset)
}

func printInfo(msg string) {
	fmt.Printf("%sℹ %s%s\n", colorCyan, msg, colorReset)
}

// printServerLine colors an already-formatted server line by its tag.
func printServerLine(line string) {
	switch {
	case strings.Contains(line, "[Error]"), strings.Contains(line, "[Kick]"):
		fmt.Printf("%s%s%s\n", colorRed, line, colorReset)
	case strings.Contains(line, "[Warning]"):
		fmt.Printf("%s%s%s\n", colorYellow, line, colorReset)
	case strings.Contains(line, "[Info]"), strings.Contains(line, "[Welcome]"),
		strings.Contains(line, "[Users]"), strings.Contains(line, "[Ops]"),
		strings.Contains(line, "[Usage]"):
		fmt.Printf("%s%s%s\n", colorCyan, line, colorReset)
	case strings.Contains(line, "[Console]"):
		fmt.Printf("%s%s%s\n", colorMagenta, line, colorReset)
	default:
		fmt.Printf("%s%s%s\n", colorWhite, line, colorReset)
	}
}

func main() {
	server := flag.String("server", "127.0.0.1:5050", "server host:port")
	downloads := flag.String("downloads", "downloads", "directory for received files")
	flag.Parse()

	printInfo(fmt.Sprintf("Connecting to %s...", *server))
	conn, err := net.Dial("tcp", *server)
	if err != nil {
		printError(fmt.Sprintf("Connection failed: %v", err))
		os.Exit(1)
	}
	defer conn.Close()
	printSuccess(fmt.Sprintf("Connected to %s", *server))

	pr := proto.NewReader(conn)
	stdin := bufio.NewReader(os.Stdin)

	if !login(conn, pr, stdin) {
		return
	}

	// stdin -> server
	go func() {
		for {
			line, err := stdin.ReadString('\n')
			if err != nil {
				fmt.Fprintln(conn, "/exit")
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			fmt.Fprintln(conn, line)
		}
	}()

	// server -> stdout, with explicit binary mode for downloads
	for {
		line, err := pr.ReadLine()
		if err != nil {
			printWarning("Disconnected from server.")
			return
		}
		switch {
		case strings.HasPrefix(line, proto.FileTransferPrefix):
			name, size, ok := proto.ParseFileTransferHeader(line)
			if !ok {
				printError("Malformed transfer header: " + line)
				continue
			}
			saved, err := receiveFile(pr, *downloads, name, size)
			if err != nil {
				// The stream position is unknown after a partial binary
				// read; bail out rather than misparse chat as file data.
				printError(fmt.Sprintf("Download failed: %v", err))
				return
			}
			printSuccess(fmt.Sprintf("Received '%s' (%d bytes) -> %s", name, size, saved))
		case strings.HasPrefix(line, proto.FileListPrefix):
			user, names, ok := proto.ParseFileList(line)
			if !ok {
				printError("Malformed file list: " + line)
				continue
			}
			if len(names) == 0 {
				printInfo(fmt.Sprintf("%s has no files.", user))
				continue
			}
			printInfo(fmt.Sprintf("Files from %s:", user))
			for _, n := range names {
				fmt.Printf("  %s- %s%s\n", colorDim, n, colorReset)
			}
		default:
			printServerLine(line)
		}
	}
}

// login relays the handshake: every prompt line from the server is answered
// from stdin, with hidden entry for password prompts. Returns true once the
// server confirms login or registration.
func login(conn net.Conn, pr *proto.Reader, stdin *bufio.Reader) bool {
	for {
		line, err := pr.ReadLine()
		if err != nil {
			printError("Connection closed during login.")
			return false
		}
		t := strings.TrimSpace(line)
		switch t {
		case "Login successful.", "Registration successful.":
			printSuccess(t)
			return true
		}
		if strings.HasSuffix(t, ":") {
			answer := readAnswer(t, stdin)
			fmt.Fprintln(conn, answer)
			continue
		}
		// Rejection or informational line; rejections are followed by the
		// server closing the connection, which the next read reports.
		printWarning(t)
	}
}

func readAnswer(prompt string, stdin *bufio.Reader) string {
	fmt.Printf("%s%s%s ", colorCyan, prompt, colorReset)
	if strings.Contains(strings.ToLower(prompt), "password") && term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(b))
		}
	}
	line, _ := stdin.ReadString('\n')
	return strings.TrimSpace(line)
}

// receiveFile consumes exactly size bytes from the stream into the
// downloads directory. The byte count is always drained, even on a local
// filesystem error, so the reader lands back on a line boundary.
func receiveFile(pr *proto.Reader, dir, name string, size int64) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		pr.ReadBinary(size, io.Discard)
		return "", err
	}
	path := filepath.Join(dir, filepath.Base(name))
	f, err := os.Create(path)
	if err != nil {
		pr.ReadBinary(size, io.Discard)
		return "", err
	}
	if err := pr.ReadBinary(size, f); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}
