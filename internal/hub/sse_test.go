package hub

import (
	"context"
	"strings"
	"testing"
	"time"
)

func nextWithTimeout(t *testing.T, sub *Subscription, timeout time.Duration) ([]byte, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return sub.Next(ctx)
}

func TestSseHubBroadcastDeliversToMatchingClients(t *testing.T) {
	h := NewSseHub(SseHubOptions{})
	subAll := h.Register("")
	subProblems := h.Register(FamilyProblems)
	defer h.Unregister(subAll.ID)
	defer h.Unregister(subProblems.ID)

	h.Broadcast(Envelope{ID: 1, Source: Source{Family: FamilyHistory}, Record: "r1"})

	frame, ok := nextWithTimeout(t, subAll, time.Second)
	if !ok || !strings.Contains(string(frame), "data: r1") {
		t.Fatalf("frame = %q, ok = %v", frame, ok)
	}

	if _, ok := nextWithTimeout(t, subProblems, 50*time.Millisecond); ok {
		t.Fatal("problems-only client should not receive a history event")
	}
}

func TestSseHubFrameFormat(t *testing.T) {
	h := NewSseHub(SseHubOptions{})
	sub := h.Register("")
	defer h.Unregister(sub.ID)

	h.Broadcast(Envelope{ID: 42, Source: Source{Family: FamilyProblems}, Record: `{"x":1}`})

	frame, ok := nextWithTimeout(t, sub, time.Second)
	if !ok {
		t.Fatal("no frame received")
	}
	s := string(frame)
	if !strings.HasPrefix(s, "id: 42\n") {
		t.Fatalf("frame missing id line: %q", s)
	}
	if !strings.Contains(s, "event: zabbix.problems\n") {
		t.Fatalf("frame missing event line: %q", s)
	}
	if !strings.HasSuffix(s, "data: {\"x\":1}\n\n") {
		t.Fatalf("frame missing data line: %q", s)
	}
}

func TestSseHubBackpressureDropsAreIndependentPerClient(t *testing.T) {
	h := NewSseHub(SseHubOptions{DropThreshold: 100})
	subA := h.Register("")
	subB := h.Register("")
	defer h.Unregister(subA.ID)
	defer h.Unregister(subB.ID)

	// Drain client B as broadcasts arrive so it never drops; leave client A
	// entirely unread so its pending bytes cross the threshold quickly.
	const total = 50
	drainedB := 0
	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for drainedB < total {
			if _, ok := subB.Next(ctx); !ok {
				break
			}
			drainedB++
		}
		close(done)
	}()

	for i := 0; i < total; i++ {
		h.Broadcast(Envelope{ID: uint64(i + 1), Source: Source{Family: FamilyOther}, Record: "0123456789"})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("client B only drained %d/%d frames", drainedB, total)
	}
	if drainedB != total {
		t.Fatalf("client B drained %d frames, want %d (its own backlog never saturates)", drainedB, total)
	}

	// Client A was never drained: its pending bytes must have crossed the
	// threshold, so it holds strictly fewer than `total` queued frames.
	gotA := 0
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		frame, ok := subA.Next(ctx)
		cancel()
		if !ok || frame == nil {
			break
		}
		gotA++
	}
	if gotA >= total {
		t.Fatalf("client A received all %d frames, want fewer (drop threshold should have triggered)", gotA)
	}
}

func TestSseHubHeartbeat(t *testing.T) {
	h := NewSseHub(SseHubOptions{HeartbeatInterval: 20 * time.Millisecond})
	sub := h.Register("")
	defer h.Unregister(sub.ID)

	var calls int
	h.HeartbeatStart(func() int64 {
		calls++
		return int64(calls)
	})
	defer h.HeartbeatStop()

	frame, ok := nextWithTimeout(t, sub, time.Second)
	if !ok || !strings.HasPrefix(string(frame), ": hb ") {
		t.Fatalf("frame = %q, ok = %v, want heartbeat comment", frame, ok)
	}
}

func TestSseHubClose(t *testing.T) {
	h := NewSseHub(SseHubOptions{})
	sub := h.Register("")

	h.Close()

	if _, ok := nextWithTimeout(t, sub, time.Second); ok {
		t.Fatal("expected subscription to be closed")
	}

	// Registering after Close still returns a subscription, but it is
	// pre-closed so the caller's SSE handler exits immediately.
	postClose := h.Register("")
	if _, ok := nextWithTimeout(t, postClose, time.Second); ok {
		t.Fatal("expected post-close registration to be pre-closed")
	}
}

func TestSseHubUnregisterIdempotent(t *testing.T) {
	h := NewSseHub(SseHubOptions{})
	sub := h.Register("")
	h.Unregister(sub.ID)
	h.Unregister(sub.ID) // must not panic
}
