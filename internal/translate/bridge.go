// Package translate bridges MCP transports: it exposes a stdio MCP server
// process over SSE and Streamable HTTP, and in reverse mode exposes a
// remote SSE endpoint on local stdio. Frames pass through untyped; only
// the JSON-RPC id is rewritten so concurrent clients can share one child
// process without id collisions.
package translate

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// maxFrameBytes bounds a single newline-delimited JSON-RPC frame.
const maxFrameBytes = 4 * 1024 * 1024

// ErrClosed is returned by Forward after the bridge shut down.
var ErrClosed = errors.New("translate: bridge closed")

// call tracks one in-flight request: the client's original id and the
// channel its response frame is delivered on.
type call struct {
	origID json.RawMessage
	ch     chan []byte
}

// Bridge serializes frames from many clients onto one stdio MCP server.
// Request ids are rewritten into a bridge-unique integer space on the way
// in and translated back on responses. Frames without an id (notifications
// and server-initiated messages) fan out to every subscriber.
type Bridge struct {
	logger *slog.Logger

	writeMu sync.Mutex
	in      io.Writer

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]*call
	subs    map[int64]chan []byte
	nextSub int64
	closed  bool

	done chan struct{}
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// NewBridge wraps the given child streams. Start must be called before
// Forward; the reader is drained until EOF or context cancellation.
func NewBridge(in io.Writer, opts ...Option) *Bridge {
	b := &Bridge{
		logger:  slog.Default(),
		in:      in,
		pending: make(map[int64]*call),
		subs:    make(map[int64]chan []byte),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SpawnChild starts the command line as the bridged stdio server and
// returns a bridge already reading its stdout. The child's stderr passes
// through to the bridge process's stderr.
func SpawnChild(ctx context.Context, command string, opts ...Option) (*Bridge, *exec.Cmd, error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return nil, nil, fmt.Errorf("translate: empty child command")
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("translate: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("translate: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("translate: starting %q: %w", parts[0], err)
	}

	b := NewBridge(stdin, opts...)
	go b.ReadLoop(ctx, stdout)
	return b, cmd, nil
}

// ReadLoop drains the child's stdout, routing responses to their callers
// and broadcasting everything else. It returns when the stream ends or
// ctx is cancelled, failing all in-flight calls.
func (b *Bridge) ReadLoop(ctx context.Context, r io.Reader) {
	defer b.close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)
		b.route(frame)
	}
	if err := scanner.Err(); err != nil {
		b.logger.Error("child stream read failed", "error", err)
	}
}

// Forward sends one client frame to the child. For requests it blocks
// until the matching response arrives, with the client's original id
// restored; for notifications it returns (nil, nil) immediately after the
// write.
func (b *Bridge) Forward(ctx context.Context, frame []byte) ([]byte, error) {
	origID, hasID, err := frameID(frame)
	if err != nil {
		return nil, fmt.Errorf("translate: invalid frame: %w", err)
	}

	if !hasID {
		return nil, b.write(frame)
	}

	bridgeID := b.nextID.Add(1)
	rewritten, err := withID(frame, json.RawMessage(strconv.FormatInt(bridgeID, 10)))
	if err != nil {
		return nil, fmt.Errorf("translate: rewriting id: %w", err)
	}

	c := &call{origID: origID, ch: make(chan []byte, 1)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.pending[bridgeID] = c
	b.mu.Unlock()

	if err := b.write(rewritten); err != nil {
		b.dropPending(bridgeID)
		return nil, err
	}

	select {
	case resp, ok := <-c.ch:
		if !ok {
			return nil, ErrClosed
		}
		return resp, nil
	case <-ctx.Done():
		b.dropPending(bridgeID)
		return nil, ctx.Err()
	case <-b.done:
		return nil, ErrClosed
	}
}

// Subscribe registers a receiver for frames that are not responses to
// Forward calls: notifications and server-initiated requests. The channel
// is buffered; a slow subscriber loses frames rather than stalling the
// read loop.
func (b *Bridge) Subscribe() (int64, <-chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	id := b.nextSub
	ch := make(chan []byte, 32)
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bridge) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Done is closed when the child stream ends.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

func (b *Bridge) write(frame []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if _, err := b.in.Write(append(frame, '\n')); err != nil {
		return fmt.Errorf("translate: writing to child: %w", err)
	}
	return nil
}

// route delivers one child frame: responses go back to their caller with
// the original id restored, everything else is broadcast.
func (b *Bridge) route(frame []byte) {
	id, hasID, err := frameID(frame)
	if err != nil {
		b.logger.Warn("dropping unparseable child frame", "error", err)
		return
	}

	if hasID && !frameIsRequest(frame) {
		bridgeID, err := strconv.ParseInt(strings.TrimSpace(string(id)), 10, 64)
		if err == nil {
			b.mu.Lock()
			c, ok := b.pending[bridgeID]
			delete(b.pending, bridgeID)
			b.mu.Unlock()
			if ok {
				restored, err := withID(frame, c.origID)
				if err != nil {
					b.logger.Error("restoring response id failed", "error", err)
					return
				}
				c.ch <- restored
				return
			}
		}
		b.logger.Warn("response for unknown request id", "id", string(id))
		return
	}

	b.broadcast(frame)
}

func (b *Bridge) broadcast(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- frame:
		default:
		}
	}
}

func (b *Bridge) dropPending(bridgeID int64) {
	b.mu.Lock()
	delete(b.pending, bridgeID)
	b.mu.Unlock()
}

func (b *Bridge) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, c := range b.pending {
		delete(b.pending, id)
		close(c.ch)
	}
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
	close(b.done)
}

// frameID extracts the raw id field. hasID distinguishes a missing id
// from JSON null, which by JSON-RPC still marks a (error) response.
func frameID(frame []byte) (json.RawMessage, bool, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(frame, &probe); err != nil {
		return nil, false, err
	}
	id, ok := probe["id"]
	return id, ok, nil
}

// frameIsRequest reports whether the frame carries a method, i.e. it is a
// request or notification rather than a response.
func frameIsRequest(frame []byte) bool {
	var probe struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(frame, &probe); err != nil {
		return false
	}
	return probe.Method != ""
}

// withID returns the frame with its id field replaced.
func withID(frame []byte, id json.RawMessage) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(frame, &obj); err != nil {
		return nil, err
	}
	obj["id"] = id
	return json.Marshal(obj)
}
