package transport

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestQueue_Ordering(t *testing.T) {
	q := NewQueue[int]()
	for i := 0; i < 100; i++ {
		q.Send(i)
	}
	if q.Len() != 100 {
		t.Fatalf("Len = %d, want 100", q.Len())
	}

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		m, ok := q.Receive(ctx)
		if !ok {
			t.Fatalf("Receive %d: queue reported done", i)
		}
		if m != i {
			t.Fatalf("Receive %d: got %d, messages reordered", i, m)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("Len = %d after drain", q.Len())
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	const producers = 8
	const perProducer = 250

	q := NewQueue[int]()
	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Send(base + i)
			}
		}(p * perProducer)
	}

	seen := make(map[int]bool, producers*perProducer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx := context.Background()
		for i := 0; i < producers*perProducer; i++ {
			m, ok := q.Receive(ctx)
			if !ok {
				t.Errorf("Receive %d: queue reported done", i)
				return
			}
			if seen[m] {
				t.Errorf("message %d delivered twice", m)
				return
			}
			seen[m] = true
		}
	}()

	wg.Wait()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not see every message")
	}
	if len(seen) != producers*perProducer {
		t.Fatalf("delivered %d messages, want %d", len(seen), producers*perProducer)
	}
}

func TestQueue_ReceiveBlocksUntilSend(t *testing.T) {
	q := NewQueue[string]()

	got := make(chan string, 1)
	go func() {
		m, ok := q.Receive(context.Background())
		if ok {
			got <- m
		}
	}()

	// Give the consumer a moment to park.
	time.Sleep(10 * time.Millisecond)
	q.Send("wake")

	select {
	case m := <-got:
		if m != "wake" {
			t.Fatalf("received %q", m)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer never woke")
	}
}

func TestQueue_ReceiveContextCancel(t *testing.T) {
	q := NewQueue[int]()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Receive(ctx)
		done <- ok
	}()

	cancel()
	select {
	case ok := <-done:
		if ok {
			t.Fatal("Receive returned ok after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not observe cancellation")
	}
}

func TestQueue_CloseDrains(t *testing.T) {
	q := NewQueue[int]()
	q.Send(1)
	q.Send(2)
	q.Close()

	// Queued messages survive the close.
	ctx := context.Background()
	if m, ok := q.Receive(ctx); !ok || m != 1 {
		t.Fatalf("first Receive = %d, %v", m, ok)
	}
	if m, ok := q.Receive(ctx); !ok || m != 2 {
		t.Fatalf("second Receive = %d, %v", m, ok)
	}

	// Drained and closed: not ok, without blocking.
	if _, ok := q.Receive(ctx); ok {
		t.Fatal("Receive ok on drained closed queue")
	}
}

func TestQueue_SendAfterCloseDropped(t *testing.T) {
	q := NewQueue[int]()
	q.Close()
	q.Send(7)

	if q.Len() != 0 {
		t.Fatalf("Len = %d, send after close not dropped", q.Len())
	}
}
