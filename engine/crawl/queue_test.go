package crawl

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(10)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := q.Put(ctx, Item{CID: fmt.Sprintf("Qm%d", i)}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		it, err := q.Get(ctx)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if want := fmt.Sprintf("Qm%d", i); it.CID != want {
			t.Errorf("got %s, want %s", it.CID, want)
		}
	}
}

func TestPutBlocksAtCapacity(t *testing.T) {
	q := NewQueue(2)
	ctx := context.Background()
	q.Put(ctx, Item{CID: "a"})
	q.Put(ctx, Item{CID: "b"})

	unblocked := make(chan struct{})
	go func() {
		q.Put(ctx, Item{CID: "c"})
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatal("Put should block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := q.Get(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case <-unblocked:
	case <-time.After(2 * time.Second):
		t.Fatal("Put did not unblock after a Get")
	}
}

func TestOfferBypassesCapacity(t *testing.T) {
	q := NewQueue(2)
	ctx := context.Background()
	q.Put(ctx, Item{CID: "a"})
	q.Put(ctx, Item{CID: "b"})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			q.Offer(Item{CID: fmt.Sprintf("child%d", i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Offer must never block")
	}
	if q.Len() != 22 {
		t.Errorf("Len = %d, want 22", q.Len())
	}
}

func TestOfferWakesBlockedGet(t *testing.T) {
	q := NewQueue(2)
	got := make(chan Item, 1)
	go func() {
		it, err := q.Get(context.Background())
		if err == nil {
			got <- it
		}
	}()

	time.Sleep(20 * time.Millisecond) // let the getter block
	q.Offer(Item{CID: "QmChild"})

	select {
	case it := <-got:
		if it.CID != "QmChild" {
			t.Errorf("got %s", it.CID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Offer did not wake a blocked Get")
	}
}

func TestGetUnblocksOnCancel(t *testing.T) {
	q := NewQueue(2)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Get(ctx)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Get did not observe cancellation")
	}
}

func TestPutUnblocksOnCancel(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	q.Put(ctx, Item{CID: "a"})

	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Put(ctx, Item{CID: "b"})
	}()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Put did not observe cancellation")
	}
}
