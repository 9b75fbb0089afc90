package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
)

// FramingMode selects the output wire framing.
type FramingMode int

const (
	// FramingContentLength writes "Content-Length: N\r\n\r\n<body>".
	FramingContentLength FramingMode = iota
	// FramingNewline writes one JSON object per newline-terminated line.
	FramingNewline
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("transport already started")

// outboundQueueSize bounds the send queue; Send suspends when it is full.
const outboundQueueSize = 64

// FramedTransport reads framed JSON-RPC messages from an input stream and
// writes framed responses to an output stream. Both wire framings are
// accepted on input and auto-detected per message; the output framing is
// fixed at construction.
//
// A bad frame never breaks the session: malformed JSON surfaces through
// OnError and processing continues with the next bytes.
type FramedTransport struct {
	// OnMessage is invoked once per decoded message, never with a partial
	// payload. Set before Start.
	OnMessage func(*JSONRPCMessage)
	// OnError is invoked for parse errors and upstream stream errors.
	// The transport does not close itself on errors.
	OnError func(error)
	// OnClose is invoked exactly once when the transport closes.
	OnClose func()

	reader  io.Reader
	writer  io.Writer
	framing FramingMode
	logger  *slog.Logger

	mu       sync.Mutex
	started  bool
	closed   bool
	outbound chan []byte

	closeCh    chan struct{}
	writerDone chan struct{}
	readerDone chan struct{}
	closeOnce  sync.Once
}

// TransportOptions configures a FramedTransport.
type TransportOptions struct {
	// ForceNewline selects newline output framing.
	ForceNewline bool
	// ForceContentLength selects Content-Length output framing and wins
	// over ForceNewline when both are set.
	ForceContentLength bool
	Logger             *slog.Logger
}

// NewFramedTransport creates a transport over the given stream pair.
func NewFramedTransport(r io.Reader, w io.Writer, opts TransportOptions) *FramedTransport {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "transport")

	framing := FramingContentLength
	if opts.ForceNewline && !opts.ForceContentLength {
		framing = FramingNewline
	}
	if opts.ForceNewline && opts.ForceContentLength {
		logger.Warn("both framing overrides set, using Content-Length")
	}

	return &FramedTransport{
		reader:     r,
		writer:     w,
		framing:    framing,
		logger:     logger,
		outbound:   make(chan []byte, outboundQueueSize),
		closeCh:    make(chan struct{}),
		writerDone: make(chan struct{}),
		readerDone: make(chan struct{}),
	}
}

// Start begins the reader and writer loops. A second call returns
// ErrAlreadyStarted.
func (t *FramedTransport) Start() error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.started = true
	t.mu.Unlock()

	go t.readLoop()
	go t.writeLoop()
	return nil
}

// Send serializes and enqueues a message. Messages are written in
// submission order; the call suspends when the queue is full. Sends after
// Close are silently dropped.
func (t *FramedTransport) Send(msg *JSONRPCMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	select {
	case t.outbound <- t.frame(payload):
		return nil
	case <-t.closeCh:
		return nil
	}
}

// frame wraps a serialized payload in the configured output framing.
// Content-Length is the UTF-8 byte count of the payload, not a character
// count.
func (t *FramedTransport) frame(payload []byte) []byte {
	if t.framing == FramingNewline {
		return append(payload, '\n')
	}
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))
	return append([]byte(header), payload...)
}

// Close stops reading, flushes pending writes, and fires OnClose once.
// Safe to call more than once.
func (t *FramedTransport) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		started := t.started
		t.closed = true
		t.mu.Unlock()

		close(t.closeCh)
		// The writer goroutine only exists after Start.
		if started {
			<-t.writerDone
		}

		if t.OnClose != nil {
			t.OnClose()
		}
	})
}

// Done is closed when the reader loop exits (end of input or stream error).
func (t *FramedTransport) Done() <-chan struct{} {
	return t.readerDone
}

// writeLoop drains the outbound queue in order. On close it flushes
// whatever is already queued before exiting.
func (t *FramedTransport) writeLoop() {
	defer close(t.writerDone)
	for {
		select {
		case frame := <-t.outbound:
			t.writeFrame(frame)
		case <-t.closeCh:
			for {
				select {
				case frame := <-t.outbound:
					t.writeFrame(frame)
				default:
					return
				}
			}
		}
	}
}

func (t *FramedTransport) writeFrame(frame []byte) {
	if _, err := t.writer.Write(frame); err != nil {
		t.emitError(fmt.Errorf("write frame: %w", err))
	}
}

// readLoop drains the input stream into the framing state machine.
func (t *FramedTransport) readLoop() {
	defer close(t.readerDone)

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for {
		select {
		case <-t.closeCh:
			return
		default:
		}

		n, err := t.reader.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			buf = t.drainFrames(buf)
		}
		if err != nil {
			if err != io.EOF {
				t.emitError(fmt.Errorf("read stream: %w", err))
			}
			return
		}
	}
}

// drainFrames extracts and dispatches every complete frame in buf,
// returning the unconsumed remainder. A partial chunk is left in place
// until enough bytes arrive to disambiguate and complete the frame.
func (t *FramedTransport) drainFrames(buf []byte) []byte {
	for {
		// Blank separator lines between frames are not significant.
		for len(buf) > 0 && (buf[0] == '\n' || buf[0] == '\r' || buf[0] == ' ' || buf[0] == '\t') {
			buf = buf[1:]
		}
		if len(buf) == 0 {
			return buf
		}

		switch buf[0] {
		case 'C':
			rest, payload, ok := consumeContentLength(buf, t.emitError)
			if !ok {
				return rest
			}
			buf = rest
			if payload != nil {
				t.dispatch(payload)
			}
		case '{':
			idx := bytes.IndexByte(buf, '\n')
			if idx < 0 {
				return buf
			}
			line := buf[:idx]
			buf = buf[idx+1:]
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			if len(line) > 0 {
				t.dispatch(line)
			}
		default:
			// Unrecognized leading byte: resync at the next newline so a
			// corrupt frame cannot wedge the session.
			t.emitError(fmt.Errorf("parse error: unexpected byte %q at frame start", buf[0]))
			idx := bytes.IndexByte(buf, '\n')
			if idx < 0 {
				return buf[:0]
			}
			buf = buf[idx+1:]
		}
	}
}

// consumeContentLength handles a buffer starting with 'C'. It requires the
// complete header block terminated by \r\n\r\n plus the declared body
// length before consuming anything. A malformed length value skips only
// the offending header line; the remainder of the buffer is preserved.
func consumeContentLength(buf []byte, emitErr func(error)) (rest, payload []byte, ok bool) {
	headerEnd := bytes.Index(buf, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		return buf, nil, false
	}

	length := -1
	for _, line := range bytes.Split(buf[:headerEnd], []byte("\r\n")) {
		name, value, found := bytes.Cut(line, []byte(":"))
		if !found || !bytes.EqualFold(bytes.TrimSpace(name), []byte("Content-Length")) {
			continue
		}
		n, err := strconv.Atoi(string(bytes.TrimSpace(value)))
		if err != nil || n < 0 {
			emitErr(fmt.Errorf("parse error: malformed Content-Length value %q", bytes.TrimSpace(value)))
			// Skip just the bad header line and re-detect from what follows.
			if idx := bytes.Index(buf, []byte("\r\n")); idx >= 0 {
				return buf[idx+2:], nil, true
			}
			return buf[:0], nil, true
		}
		length = n
	}

	if length < 0 {
		emitErr(fmt.Errorf("parse error: header block without Content-Length"))
		return buf[headerEnd+4:], nil, true
	}

	bodyStart := headerEnd + 4
	if len(buf) < bodyStart+length {
		return buf, nil, false
	}
	return buf[bodyStart+length:], buf[bodyStart : bodyStart+length], true
}

// dispatch decodes one complete frame and invokes OnMessage. Malformed
// JSON surfaces through OnError; the session continues.
func (t *FramedTransport) dispatch(payload []byte) {
	var msg JSONRPCMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.emitError(fmt.Errorf("parse error: %w", err))
		return
	}
	if t.OnMessage != nil {
		t.OnMessage(&msg)
	}
}

func (t *FramedTransport) emitError(err error) {
	if t.OnError != nil {
		t.OnError(err)
	}
}
