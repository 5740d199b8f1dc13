// Package stream decodes the newline-delimited event protocol used by the
// completion backend. The decoder performs no network I/O; it is fed raw
// byte chunks as they arrive and reassembles frames that may be split
// across chunk boundaries.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// framePrefix marks a data-carrying frame. Anything else on the wire
// (blank keep-alive lines, comments) is ignored.
const framePrefix = "data: "

// maxPendingBytes bounds the reassembly buffer. A backend that emits this
// much without a newline is not speaking the frame protocol; the buffered
// tail is discarded rather than held indefinitely.
const maxPendingBytes = 1 << 20

// EventKind tags a decoded stream event.
type EventKind int

const (
	// EventContent carries a text delta.
	EventContent EventKind = iota

	// EventStop is the backend's in-band signal that generation has
	// concluded. No events follow a stop.
	EventStop

	// EventMalformed is a frame that matched the data prefix but failed to
	// parse. It is produced so the ignore-and-continue policy is an explicit
	// decision at the consumer, not a silent default; consumers must discard
	// it and never surface it to callers.
	EventMalformed
)

// Event is one decoded unit of the streaming protocol.
type Event struct {
	Kind EventKind
	Text string // content delta, set for EventContent
	Raw  string // original frame body, set for EventMalformed
}

// framePayload is the wire shape of a data frame.
type framePayload struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

// Decoder reassembles newline-terminated frames from raw byte chunks. A
// decoder is scoped to a single generation call and must not be shared
// across concurrent calls.
type Decoder struct {
	pending string
	stopped bool
}

// NewDecoder returns a decoder with an empty buffer.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Stopped reports whether a stop event has been decoded. Once stopped the
// decoder is terminal and discards all further input.
func (d *Decoder) Stopped() bool {
	return d.stopped
}

// Feed appends a chunk to the pending buffer and returns the events decoded
// from every newline-terminated frame it completes. The (possibly empty)
// unterminated tail is carried over to the next call; a tail exceeding
// maxPendingBytes is surfaced as a malformed event and dropped.
func (d *Decoder) Feed(chunk []byte) []Event {
	if d.stopped {
		return nil
	}

	d.pending += string(chunk)

	segments := strings.Split(d.pending, "\n")
	d.pending = segments[len(segments)-1]

	var events []Event
	for _, frame := range segments[:len(segments)-1] {
		frame = strings.TrimSuffix(frame, "\r")
		body, ok := strings.CutPrefix(frame, framePrefix)
		if !ok {
			continue
		}

		var payload framePayload
		if err := json.Unmarshal([]byte(body), &payload); err != nil {
			// Keep-alives and partial frames interleave with real data;
			// a parse failure must not abort the stream.
			events = append(events, Event{Kind: EventMalformed, Raw: body})
			continue
		}

		if payload.Content != "" {
			events = append(events, Event{Kind: EventContent, Text: payload.Content})
		}
		if payload.Stop {
			events = append(events, Event{Kind: EventStop})
			d.stopped = true
			d.pending = ""
			break
		}
	}

	if len(d.pending) > maxPendingBytes {
		// Raw carries only a prefix; the full tail can be arbitrarily large.
		events = append(events, Event{Kind: EventMalformed, Raw: d.pending[:64]})
		d.pending = ""
	}

	return events
}

// Drain reads r to exhaustion or until a stop event is decoded, invoking fn
// for every content and stop event in arrival order. Malformed events are
// discarded here and never reach fn. Reaching end-of-stream without a stop
// event is not an error.
func Drain(ctx context.Context, r io.Reader, fn func(Event)) error {
	dec := NewDecoder()
	buf := make([]byte, 4096)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				if ev.Kind == EventMalformed {
					continue
				}
				fn(ev)
			}
			if dec.Stopped() {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
