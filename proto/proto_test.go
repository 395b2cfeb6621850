package proto

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTransferHeaderRoundTrip(t *testing.T) {
	line := FileTransferHeader("notes.txt", 1234)
	assert.Equal(t, "FILE_TRANSFER:notes.txt:1234", line)

	name, size, ok := ParseFileTransferHeader(line)
	require.True(t, ok)
	assert.Equal(t, "notes.txt", name)
	assert.Equal(t, int64(1234), size)
}

func TestParseFileTransferHeaderRejects(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"wrong prefix", "FILE:notes.txt:12"},
		{"no size field", "FILE_TRANSFER:notes.txt"},
		{"empty name", "FILE_TRANSFER::12"},
		{"non-numeric size", "FILE_TRANSFER:notes.txt:abc"},
		{"negative size", "FILE_TRANSFER:notes.txt:-1"},
		{"empty line", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, ok := ParseFileTransferHeader(tt.line)
			assert.False(t, ok)
		})
	}
}

func TestParseFileTransferHeaderZeroSize(t *testing.T) {
	name, size, ok := ParseFileTransferHeader("FILE_TRANSFER:empty.bin:0")
	require.True(t, ok)
	assert.Equal(t, "empty.bin", name)
	assert.Equal(t, int64(0), size)
}

func TestFileListRoundTrip(t *testing.T) {
	line := FileListLine("alice", []string{"a.txt", "b.txt"})
	assert.Equal(t, "FILE_LIST:alice:a.txt;b.txt", line)

	user, names, ok := ParseFileList(line)
	require.True(t, ok)
	assert.Equal(t, "alice", user)
	assert.Equal(t, []string{"a.txt", "b.txt"}, names)
}

func TestFileListEmpty(t *testing.T) {
	line := FileListLine("bob", nil)
	assert.Equal(t, "FILE_LIST:bob:", line)

	user, names, ok := ParseFileList(line)
	require.True(t, ok)
	assert.Equal(t, "bob", user)
	assert.Nil(t, names)
}

func TestParseFileListRejects(t *testing.T) {
	_, _, ok := ParseFileList("FILE_LIST:")
	assert.False(t, ok)
	_, _, ok = ParseFileList("FILE_LIST::a.txt")
	assert.False(t, ok)
	_, _, ok = ParseFileList("hello world")
	assert.False(t, ok)
}

func TestReaderLineThenBinaryThenLine(t *testing.T) {
	payload := []byte("binary\x00data here")
	var stream bytes.Buffer
	stream.WriteString(FileTransferHeader("blob.bin", int64(len(payload))) + "\n")
	stream.Write(payload)
	stream.WriteString("back to chat\r\n")

	r := NewReader(&stream)

	line, err := r.ReadLine()
	require.NoError(t, err)
	name, size, ok := ParseFileTransferHeader(line)
	require.True(t, ok)
	assert.Equal(t, "blob.bin", name)

	var got bytes.Buffer
	require.NoError(t, r.ReadBinary(size, &got))
	assert.Equal(t, payload, got.Bytes())

	// After the binary payload the reader is back on a line boundary.
	line, err = r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "back to chat", line)
}

func TestReaderBinaryShortStream(t *testing.T) {
	r := NewReader(strings.NewReader("only ten b"))
	var got bytes.Buffer
	err := r.ReadBinary(100, &got)
	require.Error(t, err)
}

func TestReaderTrimsLineEndings(t *testing.T) {
	r := NewReader(strings.NewReader("hello\r\nworld\n"))
	line, err := r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "hello", line)
	line, err = r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "world", line)
}
