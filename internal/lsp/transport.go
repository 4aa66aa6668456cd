package lsp

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/lspsession/internal/logging"
)

const (
	defaultOutboundQueue = 64
	defaultInboundQueue  = 256
)

// Stream read failures are retried with a growing pause, and the reader
// gives up after maxReadFailures in a row.
const (
	maxReadFailures = 10
	minReadBackoff  = 5 * time.Millisecond
	maxReadBackoff  = 250 * time.Millisecond
)

// Transport pumps framed JSON-RPC between the session and the server.
//
// Two goroutines are started by NewTransport and live until the transport
// ends. The writer owns the server's stdin: it drains the outbound queue,
// encodes and frames each message, and closes stdin once the transport is
// closed and the queue is empty. The reader owns the server's stdout: it reads and classifies
// frames onto the inbound queue, skipping malformed ones, and closes the
// inbound queue at EOF.
//
// Both queues are FIFO. The inbound queue interleaves responses with
// unsolicited notifications in wire order.
type Transport struct {
	outbound chan OutboundMessage
	inbound  chan InboundMessage

	closing   chan struct{}
	closeOnce sync.Once

	writerDone chan struct{}
	writerErr  error
	readerDone chan struct{}

	group *errgroup.Group
	log   *logging.Logger
}

// TransportOption configures a Transport.
type TransportOption func(*transportConfig)

type transportConfig struct {
	log           *logging.Logger
	outboundQueue int
	inboundQueue  int
}

// WithTransportLogger sets the logger used by the pumps.
func WithTransportLogger(l *logging.Logger) TransportOption {
	return func(c *transportConfig) {
		c.log = l
	}
}

// WithQueueSizes sets the outbound and inbound queue capacities.
func WithQueueSizes(outbound, inbound int) TransportOption {
	return func(c *transportConfig) {
		if outbound > 0 {
			c.outboundQueue = outbound
		}
		if inbound > 0 {
			c.inboundQueue = inbound
		}
	}
}

// NewTransport starts the writer over stdin and the reader over stdout.
// The transport takes ownership of stdin and closes it when the writer exits.
func NewTransport(stdout io.Reader, stdin io.WriteCloser, opts ...TransportOption) *Transport {
	cfg := transportConfig{
		log:           logging.Nop(),
		outboundQueue: defaultOutboundQueue,
		inboundQueue:  defaultInboundQueue,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	t := &Transport{
		outbound:   make(chan OutboundMessage, cfg.outboundQueue),
		inbound:    make(chan InboundMessage, cfg.inboundQueue),
		closing:    make(chan struct{}),
		writerDone: make(chan struct{}),
		readerDone: make(chan struct{}),
		group:      &errgroup.Group{},
		log:        cfg.log,
	}

	t.group.Go(func() error { return t.writeLoop(stdin) })
	t.group.Go(func() error { return t.readLoop(stdout) })
	return t
}

// Send enqueues msg for the writer. It blocks only while the outbound queue
// is full, and gives up when ctx is done or the transport is closed.
func (t *Transport) Send(ctx context.Context, msg OutboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.closing:
		return t.closedErr(msg)
	case <-t.writerDone:
		return t.writerGone(msg)
	default:
	}

	select {
	case t.outbound <- msg:
		return nil
	case <-t.closing:
		return t.closedErr(msg)
	case <-t.writerDone:
		return t.writerGone(msg)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) closedErr(msg OutboundMessage) error {
	return &TransportError{Op: "send " + msg.MethodName(), Err: ErrTransportClosed}
}

func (t *Transport) writerGone(msg OutboundMessage) error {
	err := t.writerErr
	if err == nil {
		err = ErrTransportClosed
	}
	return &TransportError{Op: "send " + msg.MethodName(), Err: err}
}

// Inbound returns the queue of classified server messages. It is closed
// when the server's stdout ends.
func (t *Transport) Inbound() <-chan InboundMessage {
	return t.inbound
}

// Close stops accepting messages and never blocks. The writer flushes
// what is already queued, then closes the server's stdin. A send racing
// with Close may be dropped. Close is idempotent.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closing)
	})
	return nil
}

// IsClosed returns true once Close has been called.
func (t *Transport) IsClosed() bool {
	select {
	case <-t.closing:
		return true
	default:
		return false
	}
}

// ReaderDone is closed when the reader has observed EOF and exited.
func (t *Transport) ReaderDone() <-chan struct{} {
	return t.readerDone
}

// WriterDone is closed when the writer has exited.
func (t *Transport) WriterDone() <-chan struct{} {
	return t.writerDone
}

// Wait blocks until both pumps exit and returns the writer's fatal error,
// if any. The reader only exits at EOF, which is not an error.
func (t *Transport) Wait() error {
	return t.group.Wait()
}

func (t *Transport) writeLoop(stdin io.WriteCloser) error {
	defer close(t.writerDone)
	defer stdin.Close()

	w := bufio.NewWriter(stdin)
	for {
		select {
		case msg := <-t.outbound:
			if err := t.write(w, msg); err != nil {
				return err
			}
		case <-t.closing:
			for {
				select {
				case msg := <-t.outbound:
					if err := t.write(w, msg); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		}
	}
}

func (t *Transport) write(w *bufio.Writer, msg OutboundMessage) error {
	body, err := EncodeMessage(msg)
	if err != nil {
		t.log.Error("dropping %s: encode: %v", msg.MethodName(), err)
		return nil
	}
	if err := WriteFrame(w, body); err != nil {
		t.writerErr = err
		t.log.Error("writer stopped: %v", err)
		return &TransportError{Op: "write", Err: err}
	}
	t.log.Debug("sent %s (%d bytes)", msg.MethodName(), len(body))
	return nil
}

func (t *Transport) readLoop(stdout io.Reader) error {
	defer close(t.readerDone)
	defer close(t.inbound)

	fr := NewFrameReader(stdout)
	failures := 0
	backoff := minReadBackoff
	for {
		body, err := fr.Next()
		if err != nil {
			var fe *FramingError
			if !errors.As(err, &fe) {
				t.log.Debug("reader stopped: %v", err)
				return nil
			}
			if !fe.IO {
				t.log.Debug("skipping frame: %v", fe)
				continue
			}
			failures++
			if failures >= maxReadFailures {
				t.log.Error("reader stopped after %d read failures: %v", failures, fe)
				return nil
			}
			t.log.Warn("read failed, retrying in %s: %v", backoff, fe)
			time.Sleep(backoff)
			backoff = min(backoff*2, maxReadBackoff)
			continue
		}
		failures, backoff = 0, minReadBackoff

		msg, err := ClassifyMessage(body)
		if err != nil {
			t.log.Warn("skipping message: %v", err)
			continue
		}
		t.inbound <- msg
	}
}
