package lsp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const contentLengthPrefix = "Content-Length: "

// MaxFrameSize bounds the body length the reader is willing to allocate.
const MaxFrameSize = 64 << 20

type flusher interface {
	Flush() error
}

// WriteFrame writes body wrapped in the Content-Length framing as a single
// write, then flushes w if it buffers. No newline follows the body.
func WriteFrame(w io.Writer, body []byte) error {
	var buf bytes.Buffer
	buf.Grow(len(contentLengthPrefix) + 24 + len(body))
	fmt.Fprintf(&buf, "%s%d\r\n\r\n", contentLengthPrefix, len(body))
	buf.Write(body)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if f, ok := w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush frame: %w", err)
		}
	}
	return nil
}

// FrameReader reads Content-Length framed bodies from a stream.
//
// Next returns either a body, a *FramingError for a frame that had to be
// skipped (the caller should simply call Next again), or a terminal error
// (io.EOF or a closed-pipe error) once the stream has ended.
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader wraps r for frame reading.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next reads the next frame body.
func (fr *FrameReader) Next() ([]byte, error) {
	line, err := fr.r.ReadString('\n')
	if err != nil {
		if isEndOfStream(err) {
			return nil, io.EOF
		}
		return nil, &FramingError{Reason: "read header line", Err: err, IO: true}
	}

	if !strings.HasPrefix(line, contentLengthPrefix) {
		return nil, &FramingError{Reason: fmt.Sprintf("unexpected header line %q", strings.TrimRight(line, "\r\n"))}
	}

	value := strings.TrimSpace(strings.TrimPrefix(line, contentLengthPrefix))
	length, err := strconv.Atoi(value)
	if err != nil {
		return nil, &FramingError{Reason: fmt.Sprintf("invalid Content-Length %q", value), Err: err}
	}
	if length < 0 || length > MaxFrameSize {
		return nil, &FramingError{Reason: fmt.Sprintf("Content-Length %d out of range", length)}
	}

	// Consume the rest of the header block through the blank separator.
	for {
		sep, err := fr.r.ReadString('\n')
		if err != nil {
			if isEndOfStream(err) {
				return nil, io.EOF
			}
			return nil, &FramingError{Reason: "read header separator", Err: err, IO: true}
		}
		if strings.TrimRight(sep, "\r\n") == "" {
			break
		}
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
			return nil, err
		}
		return nil, &FramingError{
			Reason: fmt.Sprintf("read %d byte body", length),
			Err:    err,
			IO:     !errors.Is(err, io.ErrUnexpectedEOF),
		}
	}
	return body, nil
}

// isEndOfStream reports whether err means the server's stdout is gone.
func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed)
}
