package stream

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ndrandal/marketdata-collector/internal/errs"
	"github.com/ndrandal/marketdata-collector/internal/support"
)

// State is the Stream Worker's connection lifecycle position (spec
// §4.3).
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// backoffSchedule is the canonical reconnect schedule of spec §4.3.
var backoffSchedule = []time.Duration{
	1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second,
}

const defaultMaxReconnectAttempts = 10

// pongWait/writeWait mirror the teacher's session.Handler deadlines
// (internal/session/handler.go), generalized to an outbound client: the
// worker reads server pings and relies on gorilla's default ping handler
// to answer with a pong automatically, resetting the read deadline on
// every received frame.
const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// Dialer opens a WS connection to url; tests substitute a fake.
type Dialer interface {
	Dial(url string, header http.Header) (*websocket.Conn, error)
}

type gorillaDialer struct{}

func (gorillaDialer) Dial(url string, header http.Header) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	return conn, err
}

// Worker maintains one WebSocket connection for one shard, applying
// backoff and bounded-channel backpressure on the decode+enqueue path
// (spec §4.3).
type Worker struct {
	shard   ShardConfig
	wsURL   string
	dialer  Dialer
	out     chan<- []byte // bounded; received frames are handed off raw, decode happens downstream
	rng     *support.RNG
	maxAttempts int

	state   atomic.Int32
	dropped atomic.Int64
	attempt int
}

// NewWorker creates a Worker for shard, dialing combined-stream URL
// wsURL+"/stream?streams=...". out is the bounded channel raw frames are
// enqueued to; when full, the worker blocks (applies backpressure) rather
// than dropping.
func NewWorker(shard ShardConfig, wsURL string, out chan<- []byte, rng *support.RNG) *Worker {
	return &Worker{
		shard:       shard,
		wsURL:       wsURL,
		dialer:      gorillaDialer{},
		out:         out,
		rng:         rng,
		maxAttempts: defaultMaxReconnectAttempts,
	}
}

// SetDialer overrides the dialer, used by tests.
func (w *Worker) SetDialer(d Dialer) { w.dialer = d }

// State returns the worker's current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Dropped returns the count of frames dropped due to saturated
// backpressure since the worker started (should remain 0 under the
// "never drop" policy; kept as a safety-valve counter only, spec §4.3).
func (w *Worker) Dropped() int64 { return w.dropped.Load() }

func (w *Worker) setState(s State) { w.state.Store(int32(s)) }

// url builds the combined-stream URL for this worker's shard.
func (w *Worker) url() string {
	streams := w.shard.StreamNames()
	q := ""
	for i, s := range streams {
		if i > 0 {
			q += "/"
		}
		q += s
	}
	return fmt.Sprintf("%s/stream?streams=%s", w.wsURL, q)
}

// Run is the worker's main loop: dial, read frames until cancellation or
// error, apply the backoff schedule on error, and give up (transition to
// Failed) after maxAttempts. Returns nil on a clean, externally-cancelled
// exit; returns an error only once the worker has given up permanently.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			w.setState(Disconnected)
			return nil
		}

		w.setState(Connecting)
		conn, err := w.dialer.Dial(w.url(), nil)
		if err != nil {
			if w.giveUp() {
				w.setState(Failed)
				return errs.Wrap(errs.KindTransientTransport, fmt.Errorf("shard %s: dial failed after %d attempts: %w", w.shard.ShardID, w.attempt, err))
			}
			if !w.sleepBackoff(ctx) {
				return nil
			}
			continue
		}

		w.attempt = 0
		w.setState(Connected)
		log.Printf("stream: shard %s connected (%d symbols)", w.shard.ShardID, len(w.shard.Symbols))

		readErr := w.readLoop(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			w.setState(Disconnected)
			return nil
		}

		w.setState(Reconnecting)
		log.Printf("stream: shard %s disconnected: %v", w.shard.ShardID, readErr)
		if w.giveUp() {
			w.setState(Failed)
			return errs.Wrap(errs.KindTransientTransport, fmt.Errorf("shard %s: exceeded %d reconnect attempts: %w", w.shard.ShardID, w.maxAttempts, readErr))
		}
		if !w.sleepBackoff(ctx) {
			return nil
		}
	}
}

// giveUp increments the attempt counter and reports whether it has
// exceeded maxAttempts.
func (w *Worker) giveUp() bool {
	w.attempt++
	return w.attempt > w.maxAttempts
}

// sleepBackoff sleeps for the canonical schedule entry for the current
// attempt, jittered to avoid a thundering herd across shards. Returns
// false if ctx was cancelled during the sleep.
func (w *Worker) sleepBackoff(ctx context.Context) bool {
	idx := w.attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}
	d := backoffSchedule[idx]
	if w.rng != nil {
		d = w.rng.Jitter(d, 0.2)
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// readLoop reads frames until conn errors or ctx is cancelled, applying
// backpressure (not drop) when out is saturated, per spec §4.3.
func (w *Worker) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	errCh := make(chan error, 1)
	frameCh := make(chan []byte)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(pongWait))
			select {
			case frameCh <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case err := <-errCh:
			return err
		case frame := <-frameCh:
			select {
			case w.out <- frame:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
