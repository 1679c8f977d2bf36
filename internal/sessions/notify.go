package sessions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/giantswarm/mcp-gateway/internal/logging"
)

// sendTimeout bounds one notification delivery so a stuck transport
// cannot wedge the session's delivery goroutine forever.
const sendTimeout = 10 * time.Second

type envelope struct {
	method string
	params map[string]any
}

// notifier serializes notification delivery for one session. A single
// goroutine drains the queue, so clients observe notifications in the
// order they were emitted.
type notifier struct {
	session *Session
	send    Sender
	logger  *slog.Logger

	queue chan envelope
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

func newNotifier(s *Session, send Sender, queueSize int, logger *slog.Logger) *notifier {
	n := &notifier{
		session: s,
		send:    send,
		logger:  logger,
		queue:   make(chan envelope, queueSize),
		done:    make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) enqueue(method string, params map[string]any) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrSessionClosed
	}
	select {
	case n.queue <- envelope{method: method, params: params}:
		n.mu.Unlock()
		return nil
	default:
		n.mu.Unlock()
		n.logger.Warn("notification dropped, session queue full",
			logging.Session(n.session.ID()),
			logging.Method(method))
		return nil
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()
	<-n.done
}

func (n *notifier) run() {
	defer close(n.done)
	for ev := range n.queue {
		if n.send == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := n.send(ctx, ev.method, ev.params)
		cancel()
		if err != nil {
			n.logger.Debug("notification delivery failed",
				logging.Session(n.session.ID()),
				logging.Method(ev.method),
				logging.Err(err))
		}
	}
}
