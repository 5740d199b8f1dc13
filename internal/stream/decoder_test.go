package stream

import (
	"context"
	"strings"
	"testing"
)

func feedAll(t *testing.T, d *Decoder, chunks ...string) []Event {
	t.Helper()
	var events []Event
	for _, c := range chunks {
		events = append(events, d.Feed([]byte(c))...)
	}
	return events
}

func TestDecoder_FrameSplitAcrossChunks(t *testing.T) {
	d := NewDecoder()

	events := feedAll(t, d, `data: {"content":"He`, "llo\"}\n")

	if len(events) != 1 {
		t.Fatalf("expected exactly 1 event, got %d: %v", len(events), events)
	}
	if events[0].Kind != EventContent || events[0].Text != "Hello" {
		t.Errorf("expected content event %q, got %+v", "Hello", events[0])
	}
}

func TestDecoder_StopDiscardsRemainder(t *testing.T) {
	d := NewDecoder()

	events := d.Feed([]byte("data: {\"stop\":true}\ndata: {\"content\":\"late\"}\n"))

	if len(events) != 1 || events[0].Kind != EventStop {
		t.Fatalf("expected exactly one stop event, got %v", events)
	}
	if !d.Stopped() {
		t.Errorf("decoder should be terminal after stop")
	}

	// Later chunks are discarded too.
	if more := d.Feed([]byte("data: {\"content\":\"more\"}\n")); more != nil {
		t.Errorf("expected no events after stop, got %v", more)
	}
}

func TestDecoder_ContentThenStopInOneFrame(t *testing.T) {
	d := NewDecoder()

	events := d.Feed([]byte("data: {\"content\":\"end.\",\"stop\":true}\n"))

	if len(events) != 2 {
		t.Fatalf("expected content then stop, got %v", events)
	}
	if events[0].Kind != EventContent || events[0].Text != "end." {
		t.Errorf("first event should carry the final delta, got %+v", events[0])
	}
	if events[1].Kind != EventStop {
		t.Errorf("second event should be stop, got %+v", events[1])
	}
}

func TestDecoder_MalformedFrame(t *testing.T) {
	d := NewDecoder()

	events := d.Feed([]byte("data: {not json}\n"))

	if len(events) != 1 || events[0].Kind != EventMalformed {
		t.Fatalf("expected a single malformed event, got %v", events)
	}
	if events[0].Raw != "{not json}" {
		t.Errorf("malformed event should carry the raw body, got %q", events[0].Raw)
	}

	// The stream continues after a malformed frame.
	events = d.Feed([]byte("data: {\"content\":\"ok\"}\n"))
	if len(events) != 1 || events[0].Text != "ok" {
		t.Errorf("decoder should recover after a malformed frame, got %v", events)
	}
}

func TestDecoder_IgnoresNonDataLines(t *testing.T) {
	d := NewDecoder()

	events := d.Feed([]byte("\n: keep-alive\nevent: ping\ndata: {\"content\":\"a\"}\n"))

	if len(events) != 1 || events[0].Text != "a" {
		t.Errorf("only the data frame should decode, got %v", events)
	}
}

func TestDecoder_EmptyContentYieldsNothing(t *testing.T) {
	d := NewDecoder()

	if events := d.Feed([]byte("data: {\"content\":\"\"}\n")); events != nil {
		t.Errorf("empty content must not produce an event, got %v", events)
	}
}

func TestDecoder_PendingBufferBounded(t *testing.T) {
	d := NewDecoder()

	events := d.Feed([]byte(strings.Repeat("x", maxPendingBytes+1)))
	if len(events) != 1 || events[0].Kind != EventMalformed {
		t.Fatalf("an oversized unterminated tail should be dropped as malformed, got %d events", len(events))
	}

	// The buffer is reset; the stream continues.
	events = d.Feed([]byte("data: {\"content\":\"ok\"}\n"))
	if len(events) != 1 || events[0].Text != "ok" {
		t.Errorf("decoder should recover after dropping the tail, got %v", events)
	}
}

func TestDrain_CollectsInOrder(t *testing.T) {
	body := "data: {\"content\":\"A\"}\n" +
		"data: {not json}\n" +
		"data: {\"content\":\"B\"}\n" +
		"data: {\"stop\":true}\n" +
		"data: {\"content\":\"ignored\"}\n"

	var tokens []string
	stopped := false
	err := Drain(context.Background(), strings.NewReader(body), func(ev Event) {
		switch ev.Kind {
		case EventContent:
			tokens = append(tokens, ev.Text)
		case EventStop:
			stopped = true
		case EventMalformed:
			t.Errorf("malformed events must never reach the callback")
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := strings.Join(tokens, ""); got != "AB" {
		t.Errorf("expected tokens AB in order, got %q", got)
	}
	if !stopped {
		t.Errorf("expected a stop event")
	}
}

func TestDrain_EOFWithoutStopIsNotAnError(t *testing.T) {
	var tokens []string
	err := Drain(context.Background(), strings.NewReader("data: {\"content\":\"A\"}\n"), func(ev Event) {
		if ev.Kind == EventContent {
			tokens = append(tokens, ev.Text)
		}
	})
	if err != nil {
		t.Fatalf("end of stream without stop must not error, got %v", err)
	}
	if len(tokens) != 1 {
		t.Errorf("expected 1 token, got %v", tokens)
	}
}

func TestDrain_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Drain(ctx, strings.NewReader("data: {\"content\":\"A\"}\n"), func(ev Event) {
		t.Errorf("callback must not fire after cancellation")
	})
	if err == nil {
		t.Fatalf("expected context error")
	}
}
