// files.go
// File transfer subsystem: upload, download, listing, and deletion of files
// in per-user directories under the configured files root. Every entry
// point validates the filename against the character blacklist and checks
// that the resolved path stays inside the target user's directory.
//go:build !client

package main

import (
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"chathub/proto"
)

const invalidFilenameChars = `/\:*?"<>|`

// copyChunkSize bounds per-read memory during transfers.
const copyChunkSize = 4096

func validFilename(name string) bool {
	return name != "" &&
		!strings.Contains(name, "..") &&
		!strings.ContainsAny(name, invalidFilenameChars)
}

// userFilePath resolves name inside user's directory. The containment check
// on the resolved absolute paths is the traversal defense, independent of
// the character blacklist.
func (s *Server) userFilePath(user, name string) (dir, path string, ok bool) {
	dir, err := filepath.Abs(filepath.Join(s.cfg.FilesDir, user))
	if err != nil {
		return "", "", false
	}
	path, err = filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return "", "", false
	}
	if !strings.HasPrefix(path, dir+string(os.PathSeparator)) {
		return "", "", false
	}
	return dir, path, true
}

// handleUploadFromServerPath copies a file from a path on the machine
// running the server into the uploader's directory. This preserves the
// protocol's documented legacy semantics: the client names a server-local
// source path, no bytes are streamed from the client. A symmetric
// client-to-server stream would be the correct upload; it is deliberately
// not substituted here.
func (s *Server) handleUploadFromServerPath(conn net.Conn, username, srcPath string) {
	srcPath = strings.Trim(srcPath, `"`)
	filename := filepath.Base(srcPath)

	fi, err := os.Stat(srcPath)
	if err != nil {
		sendLine(conn, formatLine("[Error]", "Source file '"+filename+"' not found on server."))
		log.Printf("[Upload Error] %s requested missing source: %s", username, srcPath)
		return
	}
	if !fi.Mode().IsRegular() {
		sendLine(conn, formatLine("[Error]", "Source path '"+filename+"' is not a file."))
		log.Printf("[Upload Error] %s source is not a file: %s", username, srcPath)
		return
	}
	if !validFilename(filename) {
		sendLine(conn, formatLine("[Error]", "Invalid filename provided."))
		log.Printf("[Upload Error] %s attempted invalid filename: %s", username, filename)
		return
	}
	dir, dest, ok := s.userFilePath(username, filename)
	if !ok {
		sendLine(conn, formatLine("[Error]", "File access denied."))
		log.Printf("[Upload Error] %s attempted traversal: %s", username, filename)
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		sendLine(conn, formatLine("[Error]", "Error uploading file: Check server logs."))
		log.Printf("[Upload Error] creating dir for %s: %v", username, err)
		return
	}

	src, err := os.Open(srcPath)
	if err != nil {
		sendLine(conn, formatLine("[Error]", "Error uploading file: Check server logs."))
		log.Printf("[Upload Error] opening source for %s: %v", username, err)
		return
	}
	defer src.Close()

	// O_EXCL: a name collision is rejected, never overwritten.
	dst, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			sendLine(conn, formatLine("[Error]", "File '"+filename+"' already exists in your server directory. Upload failed."))
			log.Printf("[Upload Error] %s attempted to overwrite: %s", username, filename)
		} else {
			sendLine(conn, formatLine("[Error]", "Error uploading file: Check server logs."))
			log.Printf("[Upload Error] creating dest for %s: %v", username, err)
		}
		return
	}

	n, err := io.CopyBuffer(dst, src, make([]byte, copyChunkSize))
	closeErr := dst.Close()
	if err != nil || closeErr != nil {
		os.Remove(dest)
		sendLine(conn, formatLine("[Error]", "Error uploading file: Check server logs."))
		log.Printf("[Upload Error] copy failed for %s (%s): %v / %v", username, filename, err, closeErr)
		return
	}

	transfersTotal.WithLabelValues("upload").Inc()
	log.Printf("[Upload] %s uploaded %q (%d bytes)", username, filename, n)
	sendLine(conn, formatLine("[Info]", "File '"+filename+"' uploaded successfully to your server directory."))
	// Content-free notice: bystanders learn that an upload happened, not
	// which file.
	s.broadcast(formatLine("[Info]", username+" uploaded a file."), nil)
}

// handleDownload writes the FILE_TRANSFER header line and then exactly the
// announced number of raw bytes on the chat socket. Header and payload go
// out under the connection's write lock as one uninterruptible frame.
func (s *Server) handleDownload(conn *lockedConn, requester, targetUser, filename string) {
	if !validUsername(targetUser) {
		sendLine(conn, formatLine("[Error]", "Invalid username requested."))
		return
	}
	if !validFilename(filename) {
		sendLine(conn, formatLine("[Error]", "Invalid filename requested."))
		log.Printf("[Download Error] %s attempted invalid filename: %s", requester, filename)
		return
	}
	_, path, ok := s.userFilePath(targetUser, filename)
	if !ok {
		sendLine(conn, formatLine("[Error]", "Error: File access denied."))
		log.Printf("[Download Error] %s attempted traversal: %s", requester, filename)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		sendLine(conn, formatLine("[Error]", "Error: File '"+filename+"' not found in "+targetUser+"'s directory."))
		log.Printf("[Download Error] %s requested missing file: %s/%s", requester, targetUser, filename)
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil || !fi.Mode().IsRegular() {
		sendLine(conn, formatLine("[Error]", "Error: File '"+filename+"' not found in "+targetUser+"'s directory."))
		return
	}

	size := fi.Size()
	n, err := conn.WriteFrame(proto.FileTransferHeader(filename, size), f, make([]byte, copyChunkSize))
	if err != nil {
		// The requester's read loop notices the dead socket on its own;
		// a failed transfer is not fatal to the server.
		log.Printf("[Download Error] sending %s to %s after %d bytes: %v", filename, requester, n, err)
		return
	}
	transfersTotal.WithLabelValues("download").Inc()
	log.Printf("[Download] Sent %q (%d bytes) from %s to %s", filename, n, targetUser, requester)
}

// handleListFiles sends the FILE_LIST line for targetUser. A missing
// directory yields an empty payload, not an error.
func (s *Server) handleListFiles(conn net.Conn, requester, targetUser string) {
	if !validUsername(targetUser) {
		sendLine(conn, formatLine("[Error]", "Invalid username requested."))
		return
	}
	dir := filepath.Join(s.cfg.FilesDir, targetUser)
	entries, err := os.ReadDir(dir)
	if err != nil {
		sendLine(conn, proto.FileListLine(targetUser, nil))
		log.Printf("[Files] No directory for %s (requested by %s), sent empty list", targetUser, requester)
		return
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	sendLine(conn, proto.FileListLine(targetUser, names))
	log.Printf("[Files] Sent file list for %s to %s (%d files)", targetUser, requester, len(names))
}

// handleDelete removes a file. Own files need no privilege; deleting from
// another user's directory is operator-only.
func (s *Server) handleDelete(conn net.Conn, username string, parts []string) {
	var targetUser, filename string
	switch len(parts) {
	case 2: // /delete <filename>
		targetUser, filename = username, parts[1]
	case 3: // /delete <target_user> <filename>
		isOp, err := s.store.IsOperator(username)
		if err != nil {
			sendLine(conn, formatLine("[Error]", "An internal server error occurred."))
			log.Printf("[Delete Error] operator lookup for %s: %v", username, err)
			return
		}
		if !isOp {
			sendLine(conn, formatLine("[Error]", "Permission denied. Only Operators can delete other users' files."))
			log.Printf("[Delete] Non-OP %s tried to delete a file from %s", username, parts[1])
			return
		}
		targetUser, filename = parts[1], parts[2]
	default:
		sendLine(conn, formatLine("[Usage]", "Usage: /delete <filename>  OR  /delete <target_user> <filename> (Operator only)"))
		return
	}

	if !validUsername(targetUser) {
		sendLine(conn, formatLine("[Error]", "Invalid username provided."))
		return
	}
	if !validFilename(filename) {
		sendLine(conn, formatLine("[Error]", "Invalid filename provided."))
		log.Printf("[Delete] %s attempted invalid filename: %s", username, filename)
		return
	}
	_, path, ok := s.userFilePath(targetUser, filename)
	if !ok {
		sendLine(conn, formatLine("[Error]", "Error: File access denied (path violation)."))
		log.Printf("[Delete] %s attempted traversal: %s", username, filename)
		return
	}

	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		sendLine(conn, formatLine("[Error]", "Error: File '"+filename+"' not found in '"+targetUser+"'s directory."))
		return
	}
	if err := os.Remove(path); err != nil {
		sendLine(conn, formatLine("[Error]", "Error deleting file '"+filename+"'. Check server logs."))
		log.Printf("[Delete Error] removing %s/%s for %s: %v", targetUser, filename, username, err)
		return
	}

	transfersTotal.WithLabelValues("delete").Inc()
	msg := "File '" + filename + "' deleted successfully"
	if targetUser != username {
		msg += " from user '" + targetUser + "'s directory"
	}
	sendLine(conn, formatLine("[Info]", msg+"."))
	log.Printf("[Delete] %s deleted %s/%s", username, targetUser, filename)
}
