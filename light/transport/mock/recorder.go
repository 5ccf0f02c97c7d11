package mock

import (
	"context"
	"sync"

	"github.com/incubed/in3-go/light/transport"
)

// Exchange is one recorded request/response pair.
type Exchange struct {
	URL      string `json:"url"`
	Request  []byte `json:"request"`
	Response []byte `json:"response,omitempty"`
	Err      string `json:"error,omitempty"`
}

// Recorder wraps a transport and records every exchange. The recording can
// be turned into a Mock with Replay.
type Recorder struct {
	next transport.Transport

	mtx       sync.Mutex
	exchanges []Exchange
}

var _ transport.Transport = (*Recorder)(nil)

// NewRecorder records everything sent through next.
func NewRecorder(next transport.Transport) *Recorder {
	return &Recorder{next: next}
}

func (r *Recorder) Send(ctx context.Context, url string, payload []byte) ([]byte, error) {
	body, err := r.next.Send(ctx, url, payload)

	ex := Exchange{URL: url, Request: append([]byte(nil), payload...), Response: append([]byte(nil), body...)}
	if err != nil {
		ex.Err = err.Error()
	}

	r.mtx.Lock()
	r.exchanges = append(r.exchanges, ex)
	r.mtx.Unlock()

	return body, err
}

// Exchanges returns the recording so far.
func (r *Recorder) Exchanges() []Exchange {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return append([]Exchange(nil), r.exchanges...)
}

// Replay builds a Mock that answers every url with the recorded responses in
// recording order. Failed exchanges are replayed as errors.
func Replay(exchanges []Exchange) *Mock {
	m := New()
	for _, ex := range exchanges {
		reply := Reply{Body: ex.Response}
		if ex.Err != "" {
			reply = Reply{Err: replayError(ex.Err)}
		}
		m.Enqueue(ex.URL, reply)
	}
	return m
}

type replayError string

func (e replayError) Error() string { return string(e) }
