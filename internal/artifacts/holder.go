package artifacts

import (
	"sync/atomic"

	"github.com/suniash/yolo-playground/internal/tracks"
)

// Holder publishes the current Bundle. Readers observe either no bundle or a
// complete one, never a partially installed triple.
type Holder struct {
	current atomic.Pointer[Bundle]
}

// Install replaces the current bundle as a whole. A nil b is ignored.
func (h *Holder) Install(b *Bundle) {
	if b == nil {
		return
	}
	h.current.Store(b)
}

// Current returns the installed bundle or nil.
func (h *Holder) Current() *Bundle {
	return h.current.Load()
}

// Dataset returns the installed track dataset or nil.
func (h *Holder) Dataset() *tracks.Dataset {
	if b := h.current.Load(); b != nil {
		return b.Tracks
	}
	return nil
}

// Clear removes the installed bundle.
func (h *Holder) Clear() {
	h.current.Store(nil)
}
