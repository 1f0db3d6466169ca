package fifo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPushPopOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 200; i++ {
		q.Push(i)
	}
	if q.Len() != 200 {
		t.Fatalf("Len=%d, want 200", q.Len())
	}
	for i := 0; i < 200; i++ {
		v, err := q.Pop(context.Background())
		if err != nil {
			t.Fatalf("pop %d: %v", i, err)
		}
		if v != i {
			t.Fatalf("pop %d: got %d", i, v)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestPopWaitsForPush(t *testing.T) {
	q := New[string]()
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push("x")
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := q.Pop(ctx)
	if err != nil || v != "x" {
		t.Fatalf("Pop = %q, %v", v, err)
	}
}

func TestPopHonoursContext(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestCloseDrainsThenFails(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)
	q.Close()
	if q.Push(3) {
		t.Fatalf("push after close must fail")
	}
	for _, want := range []int{1, 2} {
		v, err := q.Pop(context.Background())
		if err != nil || v != want {
			t.Fatalf("Pop = %d, %v; want %d", v, err, want)
		}
	}
	if _, err := q.Pop(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCloseWakesWaiters(t *testing.T) {
	q := New[int]()
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter not released by Close")
	}
}

func TestConcurrentConsumersSeeEveryItemOnce(t *testing.T) {
	q := New[int]()
	const n = 1000
	var (
		mu   sync.Mutex
		seen = make(map[int]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, err := q.Pop(context.Background())
				if err != nil {
					return
				}
				mu.Lock()
				seen[v]++
				mu.Unlock()
			}
		}()
	}
	for i := 0; i < n; i++ {
		q.Push(i)
	}
	deadline := time.Now().Add(2 * time.Second)
	for q.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	q.Close()
	wg.Wait()
	if len(seen) != n {
		t.Fatalf("saw %d distinct items, want %d", len(seen), n)
	}
	for v, c := range seen {
		if c != 1 {
			t.Fatalf("item %d seen %d times", v, c)
		}
	}
}

func TestBoundedQueueRejectsWhenFull(t *testing.T) {
	q := NewBounded[int](3)
	if q.Cap() != 3 {
		t.Fatalf("cap = %d", q.Cap())
	}
	for i := 0; i < 3; i++ {
		if err := q.Offer(i); err != nil {
			t.Fatalf("offer %d: %v", i, err)
		}
	}
	if err := q.Offer(3); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	if q.Push(3) {
		t.Fatalf("push into a full queue succeeded")
	}
	if q.Len() != 3 {
		t.Fatalf("len = %d after rejected offers", q.Len())
	}

	// popping frees a slot
	if v, ok := q.TryPop(); !ok || v != 0 {
		t.Fatalf("TryPop = %d, %v", v, ok)
	}
	if err := q.Offer(4); err != nil {
		t.Fatalf("offer after pop: %v", err)
	}
	q.Close()
	if err := q.Offer(5); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	for _, want := range []int{1, 2, 4} {
		v, err := q.Pop(context.Background())
		if err != nil || v != want {
			t.Fatalf("Pop = %d, %v; want %d", v, err, want)
		}
	}
}

func TestNonPositiveLimitIsUnbounded(t *testing.T) {
	q := NewBounded[int](-1)
	for i := 0; i < 10000; i++ {
		if err := q.Offer(i); err != nil {
			t.Fatalf("offer %d: %v", i, err)
		}
	}
	if q.Cap() != 0 || q.Len() != 10000 {
		t.Fatalf("cap %d len %d", q.Cap(), q.Len())
	}
}
