// server.go
// chathub: single-process multi-user chat hub with shared-secret login,
// per-user file storage, operator administration, and SQLite persistence.
//go:build !client

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"chathub/store"
)

// restartExitCode tells a supervising process to re-exec the server.
const restartExitCode = 3

type Config struct {
	Addr              string
	Name              string
	Password          string
	DBFile            string
	FilesDir          string
	AllowRegistration bool
	LoginTimeout      time.Duration
	AdminWebhook      string
	MetricsAddr       string

	// Pre-auth throttle per remote IP. Zero values mean the defaults
	// (one attempt per 2s, burst 5).
	LoginEvery time.Duration
	LoginBurst int
}

// session is the state of one authenticated connection. It is owned by the
// connection's read loop and visible to other goroutines only through the
// registry under Server.mu.
type session struct {
	user   string
	joined time.Time
}

type Server struct {
	cfg   Config
	store *store.Store

	mu       sync.Mutex
	sessions map[net.Conn]*session // conn -> session
	limiters map[string]*ipLimiter
	// limiterSweep is when limiters was last pruned of idle entries.
	limiterSweep time.Time

	ln           net.Listener
	shutdownOnce sync.Once
}

func newServer(cfg Config, st *store.Store) *Server {
	if cfg.LoginEvery == 0 {
		cfg.LoginEvery = 2 * time.Second
	}
	if cfg.LoginBurst == 0 {
		cfg.LoginBurst = 5
	}
	if cfg.LoginTimeout == 0 {
		cfg.LoginTimeout = 30 * time.Second
	}
	return &Server{
		cfg:          cfg,
		store:        st,
		sessions:     make(map[net.Conn]*session),
		limiters:     make(map[string]*ipLimiter),
		limiterSweep: time.Now(),
	}
}

func main() {
	// flags / env
	addr := flag.String("addr", "0.0.0.0:5050", "listen address")
	name := flag.String("name", "MyIRCServer", "server display name")
	password := flag.String("password", os.Getenv("HUB_PASSWORD"), "shared server password (or HUB_PASSWORD)")
	dbFile := flag.String("db", "chathub.db", "sqlite db file")
	filesDir := flag.String("files_dir", "user_uploaded_files", "root directory for per-user uploads")
	allowReg := flag.Bool("allow_registration", true, "allow new-user registration")
	loginTimeout := flag.Int("login_timeout", 30, "login phase read timeout, seconds")
	adminWebhook := flag.String("admin_webhook", os.Getenv("ADMIN_WEBHOOK"), "admin webhook URL for event reports (HTTP POST)")
	metricsAddr := flag.String("metrics_addr", "", "optional prometheus /metrics listen address")
	flag.Parse()

	if *password == "" {
		log.Fatal("server password is required (-password or HUB_PASSWORD)")
	}
	if err := os.MkdirAll(*filesDir, 0o755); err != nil {
		log.Fatalf("create files dir %q: %v", *filesDir, err)
	}

	st, err := store.Open(*dbFile)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	srv := newServer(Config{
		Addr:              *addr,
		Name:              *name,
		Password:          *password,
		DBFile:            *dbFile,
		FilesDir:          *filesDir,
		AllowRegistration: *allowReg,
		LoginTimeout:      time.Duration(*loginTimeout) * time.Second,
		AdminWebhook:      *adminWebhook,
		MetricsAddr:       *metricsAddr,
	}, st)

	if srv.cfg.MetricsAddr != "" {
		go serveMetrics(srv.cfg.MetricsAddr)
	}

	ln, err := net.Listen("tcp", srv.cfg.Addr)
	if err != nil {
		log.Fatalf("listen on %s: %v", srv.cfg.Addr, err)
	}
	srv.ln = ln

	users, _ := st.CountUsers()
	ops, _ := st.CountOperators()
	log.Printf("[Start] Server %q listening on %s", srv.cfg.Name, srv.cfg.Addr)
	log.Printf("[Start] File directory: %s", *filesDir)
	log.Printf("[Start] Registration enabled: %v", srv.cfg.AllowRegistration)
	log.Printf("[Start] Loaded %d user(s) and %d operator(s)", users, ops)

	go srv.consoleLoop(os.Stdin)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		srv.beginShutdown("Console", false)
	}()

	srv.acceptLoop()
}

// acceptLoop hands each incoming connection to its own login goroutine. It
// returns when the listener is closed by shutdown.
func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("[Error] accept: %v", err)
			continue
		}
		go s.handleLogin(conn)
	}
}

/* ----- session registry ----- */

// addSession inserts conn into the registry unless the username is already
// bound to an active session.
func (s *Server) addSession(conn net.Conn, username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.user == username {
			return false
		}
	}
	s.sessions[conn] = &session{user: username, joined: time.Now()}
	activeSessions.Inc()
	return true
}

// removeSession deletes conn from the registry, returning the username it
// was bound to. ok is false when another path (kick, broadcast reap,
// shutdown) already removed it.
func (s *Server) removeSession(conn net.Conn) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[conn]
	if !ok {
		return "", false
	}
	delete(s.sessions, conn)
	activeSessions.Dec()
	return sess.user, true
}

func (s *Server) isActive(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.user == username {
			return true
		}
	}
	return false
}

// findSession returns the connection bound to username, or nil.
func (s *Server) findSession(username string) net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c, sess := range s.sessions {
		if sess.user == username {
			return c
		}
	}
	return nil
}

// activeUsers returns a sorted snapshot of connected usernames.
func (s *Server) activeUsers() []string {
	s.mu.Lock()
	users := make([]string, 0, len(s.sessions))
	for _, sess := range s.sessions {
		users = append(users, sess.user)
	}
	s.mu.Unlock()
	sort.Strings(users)
	return users
}

func (s *Server) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

/* ----- shutdown ----- */

// beginShutdown broadcasts a warning and schedules the actual drain after a
// short grace delay so the warning has a chance to flush.
func (s *Server) beginShutdown(issuer string, restart bool) {
	verb := "shutting down"
	event := "stop"
	if restart {
		verb = "restarting"
		event = "restart"
	}
	log.Printf("[Shutdown] Server %s initiated by %s", event, issuer)
	s.broadcast(formatLine("[Warning]", fmt.Sprintf("Server is %s NOW! (Issued by %s)", verb, issuer)), nil)
	s.report(adminEvent{Event: event, Username: issuer})
	time.AfterFunc(500*time.Millisecond, func() { s.shutdown(restart) })
}

// shutdown closes the listener, drains every session with a goodbye line,
// closes the store, and exits. Re-exec on restart is the supervisor's job:
// it is signalled through the exit code.
func (s *Server) shutdown(restart bool) {
	s.shutdownOnce.Do(func() {
		goodbye := "Server is shutting down. Goodbye!"
		code := 0
		if restart {
			goodbye = "Server is restarting. Please reconnect shortly."
			code = restartExitCode
		}

		if s.ln != nil {
			s.ln.Close()
		}

		s.mu.Lock()
		conns := make([]net.Conn, 0, len(s.sessions))
		for c := range s.sessions {
			conns = append(conns, c)
		}
		s.sessions = make(map[net.Conn]*session)
		s.mu.Unlock()

		log.Printf("[Shutdown] Closing %d client socket(s)", len(conns))
		msg := formatLine("[Warning]", goodbye)
		for _, c := range conns {
			c.SetWriteDeadline(time.Now().Add(500 * time.Millisecond))
			sendLine(c, msg)
			c.Close()
		}
		activeSessions.Set(0)

		if err := s.store.Close(); err != nil {
			log.Printf("[Shutdown] closing store: %v", err)
		}
		log.Printf("[Shutdown] Exiting with code %d", code)
		os.Exit(code)
	})
}

/* ----- wire helpers ----- */

// lockedConn serializes writes to one client socket. net.Conn makes no
// atomicity promise across Write calls, so on a backed-up TCP socket a
// broadcast from another session's goroutine could otherwise land inside a
// partially-written message or a FILE_TRANSFER payload.
type lockedConn struct {
	net.Conn
	wmu sync.Mutex
}

func newLockedConn(conn net.Conn) *lockedConn {
	return &lockedConn{Conn: conn}
}

func (c *lockedConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.Conn.Write(p)
}

// WriteFrame sends the header line and streams src while holding the write
// lock for the whole sequence, so the payload arrives contiguous and the
// receiver's byte count lands it back on a line boundary.
func (c *lockedConn) WriteFrame(header string, src io.Reader, buf []byte) (int64, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := fmt.Fprintln(c.Conn, header); err != nil {
		return 0, err
	}
	return io.CopyBuffer(c.Conn, src, buf)
}

// formatLine renders a server-originated line the way clients display it:
// "HH:MM:SS [prefix] message".
func formatLine(prefix, msg string) string {
	return fmt.Sprintf("%s %s %s", time.Now().Format("15:04:05"), prefix, msg)
}

func sendLine(conn net.Conn, line string) error {
	_, err := fmt.Fprintln(conn, line)
	return err
}
