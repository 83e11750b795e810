// Package modelserver streams live tracking notifications to HTTP
// clients over server-sent events. The tracker pushes Notifications
// into the server's bounded channel; the server fans them out to every
// subscriber, caching the calibration message so late subscribers
// still receive it.
package modelserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/braid-data/braid/internal/braid"
)

// wireVersion tags the JSON envelope so clients can reject a stream
// they do not understand.
const wireVersion = 3

// subscriberBuffer is the per-subscriber event queue. A subscriber
// that falls this far behind is disconnected rather than allowed to
// stall the fan-out.
const subscriberBuffer = 256

// toListener is the JSON envelope for one event.
type toListener struct {
	V   int               `json:"v"`
	Msg braid.SendMessage `json:"msg"`
	// Latency is trigger-to-send in seconds; null when the frame had
	// no trigger timestamp.
	Latency          *float64 `json:"latency"`
	SyncedFrame      uint64   `json:"synced_frame"`
	TriggerTimestamp *float64 `json:"trigger_timestamp"`
}

// Server consumes one notification channel and serves it as SSE.
type Server struct {
	in chan braid.Notification

	mu          sync.Mutex
	subscribers map[chan []byte]struct{}
	calibration []byte
	closed      bool
}

// New returns a Server whose input channel holds buffer notifications.
// The tracker blocks when the buffer fills, so the consuming Run loop
// must stay scheduled.
func New(buffer int) *Server {
	return &Server{
		in:          make(chan braid.Notification, buffer),
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Channel is where the tracker sends notifications.
func (s *Server) Channel() chan<- braid.Notification { return s.in }

// Run consumes notifications until the input channel closes, then
// disconnects every subscriber. Close the channel returned by Channel
// to stop it.
func (s *Server) Run() {
	for n := range s.in {
		s.dispatch(n)
	}
	s.mu.Lock()
	s.closed = true
	for ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, ch)
	}
	s.mu.Unlock()
}

func (s *Server) dispatch(n braid.Notification) {
	payload, err := encodeEvent(n, time.Now())
	if err != nil {
		braid.Logf("modelserver: drop unencodable %s message: %v", n.Msg.Kind(), err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if n.Msg.CalibrationFlydraXml != nil {
		s.calibration = payload
	}
	for ch := range s.subscribers {
		select {
		case ch <- payload:
		default:
			// Too slow; cut it loose rather than block the tracker.
			close(ch)
			delete(s.subscribers, ch)
		}
	}
}

// encodeEvent renders one notification as an SSE frame.
func encodeEvent(n braid.Notification, now time.Time) ([]byte, error) {
	env := toListener{
		V:           wireVersion,
		Msg:         n.Msg,
		SyncedFrame: uint64(n.TDPT.Frame),
	}
	if ts := n.TDPT.TriggerTimestamp; ts != nil {
		lat := now.Sub(*ts).Seconds()
		env.Latency = &lat
		f := braid.TimestampF64(*ts)
		env.TriggerTimestamp = &f
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: braid\ndata: %s\n\n", body)), nil
}

// subscribe registers a new event queue, pre-loaded with the cached
// calibration.
func (s *Server) subscribe() (chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("modelserver: stream ended")
	}
	ch := make(chan []byte, subscriberBuffer)
	if s.calibration != nil {
		ch <- s.calibration
	}
	s.subscribers[ch] = struct{}{}
	return ch, nil
}

func (s *Server) unsubscribe(ch chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[ch]; ok {
		close(ch)
		delete(s.subscribers, ch)
	}
}

// NumSubscribers reports how many clients are connected.
func (s *Server) NumSubscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// Handler returns the HTTP mux: GET /events is the SSE stream.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)
	return mux
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch, err := s.subscribe()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer s.unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
