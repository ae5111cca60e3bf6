package telegram

import (
	"context"
	"testing"
	"time"
)

func TestCallQueue_HigherPriorityDrainsFirst(t *testing.T) {
	q := newCallQueue(4)
	defer q.close()

	ctx := context.Background()
	order := []Priority{}

	low := job{ctx: ctx, fn: nil, resultCh: make(chan jobResult, 1)}
	high := job{ctx: ctx, fn: nil, resultCh: make(chan jobResult, 1)}

	if err := q.submit(ctx, PriorityEnrichment, low); err != nil {
		t.Fatalf("submit low: %v", err)
	}
	if err := q.submit(ctx, PriorityInteractive, high); err != nil {
		t.Fatalf("submit high: %v", err)
	}

	for i := 0; i < 2; i++ {
		j, ok := q.next()
		if !ok {
			t.Fatalf("next: queue closed unexpectedly")
		}
		switch j.resultCh {
		case high.resultCh:
			order = append(order, PriorityInteractive)
		case low.resultCh:
			order = append(order, PriorityEnrichment)
		}
	}

	if len(order) != 2 || order[0] != PriorityInteractive || order[1] != PriorityEnrichment {
		t.Errorf("expected [Interactive, Enrichment], got %v", order)
	}
}

func TestCallQueue_NextBlocksUntilSubmit(t *testing.T) {
	q := newCallQueue(1)
	defer q.close()

	done := make(chan struct{})
	go func() {
		q.next()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("next returned before any job was submitted")
	case <-time.After(50 * time.Millisecond):
	}

	if err := q.submit(context.Background(), PriorityLive, job{ctx: context.Background(), resultCh: make(chan jobResult, 1)}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("next did not unblock after submit")
	}
}

func TestCallQueue_CloseUnblocksNext(t *testing.T) {
	q := newCallQueue(1)

	done := make(chan bool, 1)
	go func() {
		_, ok := q.next()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.close()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected next to report queue closed")
		}
	case <-time.After(time.Second):
		t.Fatal("next did not unblock after close")
	}
}

func TestCallQueue_SubmitAfterCloseFails(t *testing.T) {
	q := newCallQueue(1)
	q.close()

	err := q.submit(context.Background(), PriorityLive, job{resultCh: make(chan jobResult, 1)})
	if err == nil {
		t.Error("expected error submitting to a closed queue")
	}
}
