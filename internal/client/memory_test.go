package client

import (
	"context"
	"errors"
	"testing"
)

func TestBlobRoundTrip(t *testing.T) {
	s := NewMemoryBlobStore()
	ctx := context.Background()

	in := map[string]any{"product": "Acme Widget", "sections": []any{"hero", "pricing"}}
	key, err := s.Put(ctx, "j1/research.json", in)
	if err != nil {
		t.Fatal(err)
	}
	if key != "j1/research.json" {
		t.Fatalf("key = %q", key)
	}

	var out map[string]any
	if err := s.Get(ctx, key, &out); err != nil {
		t.Fatal(err)
	}
	if out["product"] != "Acme Widget" {
		t.Fatalf("out = %v", out)
	}
}

func TestBlobGetMissing(t *testing.T) {
	s := NewMemoryBlobStore()
	var out any
	err := s.Get(context.Background(), "nope", &out)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestBlobPutUnserializable(t *testing.T) {
	s := NewMemoryBlobStore()
	_, err := s.Put(context.Background(), "k", func() {})
	if !errors.Is(err, ErrSerialization) {
		t.Fatalf("got %v", err)
	}
}

func TestQueueVisibility(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	q.Send(ctx, "q1", []byte("a"))
	q.Send(ctx, "q1", []byte("b"))

	msgs, err := q.Receive(ctx, "q1", 1, 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("receive: %v (%d)", err, len(msgs))
	}
	if string(msgs[0].Body) != "a" {
		t.Fatalf("body = %q", msgs[0].Body)
	}

	// Received messages are invisible until redelivered or deleted.
	if q.Len("q1") != 1 || q.InflightLen() != 1 {
		t.Fatalf("len=%d inflight=%d", q.Len("q1"), q.InflightLen())
	}

	q.Redeliver()
	if q.Len("q1") != 2 || q.InflightLen() != 0 {
		t.Fatalf("after redeliver len=%d inflight=%d", q.Len("q1"), q.InflightLen())
	}

	msgs, _ = q.Receive(ctx, "q1", 10, 0)
	if len(msgs) != 2 {
		t.Fatalf("received %d", len(msgs))
	}
	for _, m := range msgs {
		if err := q.Delete(ctx, "q1", m.ReceiptHandle); err != nil {
			t.Fatal(err)
		}
	}
	// Delete is idempotent.
	if err := q.Delete(ctx, "q1", msgs[0].ReceiptHandle); err != nil {
		t.Fatal(err)
	}
	if q.Len("q1") != 0 || q.InflightLen() != 0 {
		t.Fatal("queue not drained")
	}
}
