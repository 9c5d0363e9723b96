package session

import (
	"sync"

	"github.com/suniash/yolo-playground/internal/overlay"
)

// hub fans rendered scenes out to subscribers. Each subscriber holds at most
// one pending scene; a newer scene replaces an unread one, so a slow reader
// only ever sees the latest overlay and never stalls the render loop.
type hub struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

type subscriber struct {
	ch chan overlay.Scene
}

func newHub() *hub {
	return &hub{subs: make(map[int]*subscriber)}
}

// subscribe returns a channel of scenes and its cancel function. The channel
// is closed on cancel or when the hub closes. ok is false after close.
func (h *hub) subscribe() (<-chan overlay.Scene, func(), bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, func() {}, false
	}

	id := h.nextID
	h.nextID++
	sub := &subscriber{ch: make(chan overlay.Scene, 1)}
	h.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if s, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(s.ch)
			}
		})
	}
	return sub.ch, cancel, true
}

func (h *hub) publish(sc overlay.Scene) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- sc:
			continue
		default:
		}
		// Full: drop the stale scene and retry once.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- sc:
		default:
		}
	}
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}
