package tracks

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
)

// wireDocument mirrors the tracks artifact produced by the analytics backend.
// Frames and objects are kept raw so that one malformed entry only costs itself.
type wireDocument struct {
	Meta   *Meta             `json:"meta"`
	Frames []json.RawMessage `json:"frames"`
}

type wireFrame struct {
	Frame   *int              `json:"frame"`
	Objects []json.RawMessage `json:"objects"`
}

type wireObject struct {
	ID         json.RawMessage `json:"id"`
	Label      *string         `json:"label"`
	Team       *string         `json:"team"`
	BBox       []*float64      `json:"bbox"`
	Confidence *float64        `json:"confidence"`
}

// DecodeStats counts entries skipped while decoding.
type DecodeStats struct {
	Frames         int
	SkippedFrames  int
	Objects        int
	SkippedObjects int
}

// Decode reads a tracks document. Malformed frames and objects are skipped and
// logged; only an unreadable document or invalid meta is an error.
func Decode(r io.Reader, log *slog.Logger) (*Dataset, DecodeStats, error) {
	var stats DecodeStats
	var doc wireDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, stats, fmt.Errorf("decode tracks: %w", err)
	}
	if doc.Meta == nil {
		return nil, stats, fmt.Errorf("%w: meta missing", ErrInvalidMeta)
	}

	frames := make([]Frame, 0, len(doc.Frames))
	for pos, raw := range doc.Frames {
		f, skipped, ok := decodeFrame(raw)
		stats.SkippedObjects += skipped
		if !ok {
			stats.SkippedFrames++
			if log != nil {
				log.Debug("skipping malformed track frame", slog.Int("position", pos))
			}
			continue
		}
		if skipped > 0 && log != nil {
			log.Debug("skipped malformed track objects",
				slog.Int("frame", f.Index),
				slog.Int("skipped", skipped))
		}
		stats.Objects += len(f.Objects)
		frames = append(frames, f)
	}

	ds, dropped, err := New(*doc.Meta, frames)
	if err != nil {
		return nil, stats, err
	}
	stats.SkippedFrames += dropped
	stats.Frames = len(frames) - dropped

	if log != nil && (stats.SkippedFrames > 0 || stats.SkippedObjects > 0) {
		log.Warn("tracks decoded with malformed entries",
			slog.Int("frames", stats.Frames),
			slog.Int("skipped_frames", stats.SkippedFrames),
			slog.Int("skipped_objects", stats.SkippedObjects))
	}
	return ds, stats, nil
}

func decodeFrame(raw json.RawMessage) (Frame, int, bool) {
	var wf wireFrame
	if err := json.Unmarshal(raw, &wf); err != nil || wf.Frame == nil || *wf.Frame < 0 {
		return Frame{}, 0, false
	}

	f := Frame{Index: *wf.Frame, Objects: make([]Object, 0, len(wf.Objects))}
	skipped := 0
	for _, rawObj := range wf.Objects {
		obj, ok := decodeObject(rawObj)
		if !ok {
			skipped++
			continue
		}
		f.Objects = append(f.Objects, obj)
	}
	return f, skipped, true
}

func decodeObject(raw json.RawMessage) (Object, bool) {
	var wo wireObject
	if err := json.Unmarshal(raw, &wo); err != nil {
		return Object{}, false
	}
	id, ok := decodeID(wo.ID)
	if !ok || wo.Label == nil || len(wo.BBox) != 4 {
		return Object{}, false
	}
	var b [4]float64
	for i, v := range wo.BBox {
		if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
			return Object{}, false
		}
		b[i] = *v
	}
	if b[2] < 0 || b[3] < 0 {
		return Object{}, false
	}

	obj := Object{
		ID:    id,
		Label: Label(*wo.Label),
		Team:  TeamA,
		Box:   Box{X: b[0], Y: b[1], W: b[2], H: b[3]},
	}
	if wo.Team != nil && *wo.Team != "" {
		obj.Team = Team(*wo.Team)
	}
	if wo.Confidence != nil {
		obj.Confidence = *wo.Confidence
	}
	return obj, true
}

// decodeID accepts string ids and numeric ids, which some trackers emit.
func decodeID(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}
