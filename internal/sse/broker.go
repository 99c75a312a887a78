// Package sse streams article events to connected owners over Server-Sent Events.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/pressroom/internal/events"
)

type subscription struct {
	owner string
	ch    chan []byte
}

// Broker fans article events out to the subscribers of the owning account.
//
// A single internal loop owns the subscriber set. Public methods talk to it
// over channels, so no mutexes are required.
type Broker struct {
	keepAlive time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan events.Event
	countReqCh    chan countReq

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

type countReq struct {
	owner string
	resp  chan int
}

var _ events.Notifier = (*Broker)(nil)

// NewBroker creates a broker. Streams send a comment line every keepAlive
// so proxies keep idle connections open.
func NewBroker(keepAlive time.Duration) *Broker {
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}

	b := &Broker{
		keepAlive:     keepAlive,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan events.Event, 256),
		countReqCh:    make(chan countReq),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]string)

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub.owner

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case e := <-b.publishCh:
			raw, err := frame(e)
			if err != nil {
				continue
			}
			for ch, owner := range clients {
				if owner != e.OwnerID {
					continue
				}
				select {
				case ch <- raw:
				default:
					// Slow client; drop rather than block the loop.
				}
			}

		case req := <-b.countReqCh:
			n := 0
			for _, owner := range clients {
				if req.owner == "" || owner == req.owner {
					n++
				}
			}
			req.resp <- n
		}
	}
}

func frame(e events.Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, payload)), nil
}

// Close stops the loop and closes all subscriber channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a subscriber for ownerID's events.
func (b *Broker) Subscribe(ownerID string) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{owner: ownerID, ch: ch}:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of subscribers of ownerID, or of every
// owner when ownerID is empty.
func (b *Broker) ClientCount(ownerID string) int {
	if b.closed.Load() {
		return 0
	}

	req := countReq{owner: ownerID, resp: make(chan int, 1)}
	select {
	case b.countReqCh <- req:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-req.resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Notify queues e for delivery to its owner's subscribers.
func (b *Broker) Notify(ctx context.Context, e events.Event) error {
	if b.closed.Load() {
		return nil
	}
	select {
	case b.publishCh <- e:
	case <-b.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Stream serves ownerID's events on w until the request ends.
func (b *Broker) Stream(w http.ResponseWriter, r *http.Request, ownerID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(ownerID)
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.keepAlive)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
