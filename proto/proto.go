// Package proto implements the hub wire format: newline-delimited UTF-8
// lines with a single binary exception, the FILE_TRANSFER frame used to
// deliver file downloads over the chat socket.
//
// A download is announced by one header line
//
//	FILE_TRANSFER:<filename>:<size>
//
// followed immediately by exactly <size> raw bytes, after which the stream
// returns to line mode. File listings are sent as
//
//	FILE_LIST:<username>:<name1>;<name2>;...
//
// with an empty payload after the second colon when the user has no files.
package proto

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// FileTransferPrefix starts the header line of a binary download frame.
	FileTransferPrefix = "FILE_TRANSFER:"
	// FileListPrefix starts a file-listing response line.
	FileListPrefix = "FILE_LIST:"
)

// FileTransferHeader builds the header line announcing a download of size
// bytes. The caller appends the newline.
func FileTransferHeader(filename string, size int64) string {
	return fmt.Sprintf("%s%s:%d", FileTransferPrefix, filename, size)
}

// ParseFileTransferHeader parses a FILE_TRANSFER header line. Filenames are
// validated server-side to never contain ':', so the last field is always
// the size.
func ParseFileTransferHeader(line string) (filename string, size int64, ok bool) {
	rest, found := strings.CutPrefix(line, FileTransferPrefix)
	if !found {
		return "", 0, false
	}
	name, sizeStr, found := strings.Cut(rest, ":")
	if !found || name == "" {
		return "", 0, false
	}
	n, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil || n < 0 {
		return "", 0, false
	}
	return name, n, true
}

// FileListLine builds a FILE_LIST response for the given user.
func FileListLine(username string, names []string) string {
	return FileListPrefix + username + ":" + strings.Join(names, ";")
}

// ParseFileList parses a FILE_LIST line into the owning username and the
// file names. An empty payload yields a nil slice.
func ParseFileList(line string) (username string, names []string, ok bool) {
	rest, found := strings.CutPrefix(line, FileListPrefix)
	if !found {
		return "", nil, false
	}
	user, payload, found := strings.Cut(rest, ":")
	if !found || user == "" {
		return "", nil, false
	}
	if payload == "" {
		return user, nil, true
	}
	return user, strings.Split(payload, ";"), true
}

// Reader reads the mixed text/binary stream. It has two explicit modes:
// line mode (ReadLine) and fixed-length binary mode (ReadBinary). Both go
// through one buffered reader, so bytes buffered ahead of a FILE_TRANSFER
// header are consumed by the binary read and the stream stays in sync.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r for mixed-mode reading.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// ReadLine reads one newline-terminated line and returns it without the
// trailing newline (and carriage return, if any).
func (r *Reader) ReadLine() (string, error) {
	line, err := r.br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ReadBinary copies exactly n bytes from the stream into dst. After it
// returns nil the reader is back in line mode, positioned at the byte
// following the binary payload.
func (r *Reader) ReadBinary(n int64, dst io.Writer) error {
	_, err := io.CopyN(dst, r.br, n)
	return err
}
