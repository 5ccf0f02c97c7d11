package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/incubed/in3-go/light/transport"
)

// Reply is a canned answer of the mock transport.
type Reply struct {
	Body []byte
	Err  error
	// Delay postpones the reply. If ctx is done first, ErrNoResponse is
	// returned.
	Delay time.Duration
	// Hang blocks until ctx is done, simulating a node that never answers.
	Hang bool
}

// Handler computes a reply from the payload.
type Handler func(payload []byte) Reply

// Call is one recorded invocation of Send.
type Call struct {
	URL     string
	Payload []byte
}

// Mock is a deterministic transport. For every url it first consumes queued
// replies (Enqueue), then falls back to a fixed handler (Set, SetFunc).
// Unknown urls fail with transport.ErrUnknownNode.
type Mock struct {
	mtx      sync.Mutex
	handlers map[string]Handler
	queues   map[string][]Reply
	calls    []Call
}

var _ transport.Transport = (*Mock)(nil)

// New creates an empty mock transport.
func New() *Mock {
	return &Mock{
		handlers: make(map[string]Handler),
		queues:   make(map[string][]Reply),
	}
}

// Set makes url always answer with body.
func (m *Mock) Set(url string, body []byte) *Mock {
	return m.SetFunc(url, func([]byte) Reply { return Reply{Body: body} })
}

// SetFunc makes url answer with whatever h computes.
func (m *Mock) SetFunc(url string, h Handler) *Mock {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.handlers[url] = h
	return m
}

// Enqueue appends replies that url returns in order before falling back to
// its handler.
func (m *Mock) Enqueue(url string, replies ...Reply) *Mock {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.queues[url] = append(m.queues[url], replies...)
	return m
}

// Timeout makes url never answer.
func (m *Mock) Timeout(url string) *Mock {
	return m.SetFunc(url, func([]byte) Reply { return Reply{Hang: true} })
}

// Malformed makes url answer with a body that is not JSON.
func (m *Mock) Malformed(url string) *Mock {
	return m.Set(url, []byte("<html>502 Bad Gateway</html>"))
}

// Fail makes url fail with err.
func (m *Mock) Fail(url string, err error) *Mock {
	return m.SetFunc(url, func([]byte) Reply { return Reply{Err: err} })
}

// Calls returns all recorded calls in order.
func (m *Mock) Calls() []Call {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount returns how often url was called.
func (m *Mock) CallCount(url string) int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.URL == url {
			n++
		}
	}
	return n
}

func (m *Mock) Send(ctx context.Context, url string, payload []byte) ([]byte, error) {
	reply, err := m.next(url, payload)
	if err != nil {
		return nil, err
	}

	if reply.Hang {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", transport.ErrNoResponse, ctx.Err())
	}
	if reply.Delay > 0 {
		timer := time.NewTimer(reply.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", transport.ErrNoResponse, ctx.Err())
		}
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return append([]byte(nil), reply.Body...), nil
}

func (m *Mock) next(url string, payload []byte) (Reply, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.calls = append(m.calls, Call{URL: url, Payload: append([]byte(nil), payload...)})

	if q := m.queues[url]; len(q) > 0 {
		m.queues[url] = q[1:]
		return q[0], nil
	}
	if h, ok := m.handlers[url]; ok {
		return h(payload), nil
	}
	return Reply{}, fmt.Errorf("%w: %s", transport.ErrUnknownNode, url)
}
