package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryBlobStore is an in-process BlobStore for tests and local development
// without object storage.
type MemoryBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{objects: make(map[string][]byte)}
}

func (s *MemoryBlobStore) Put(ctx context.Context, key string, value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return key, nil
}

func (s *MemoryBlobStore) Get(ctx context.Context, key string, out any) error {
	s.mu.Lock()
	data, ok := s.objects[key]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptArtifact, key, err)
	}
	return nil
}

// Exists reports whether a key holds an object.
func (s *MemoryBlobStore) Exists(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

// Raw returns the stored bytes for a key.
func (s *MemoryBlobStore) Raw(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}

type memMessage struct {
	body   []byte
	handle string
}

// MemoryQueue is an in-process Queue with SQS-like visibility: received
// messages go in flight and return to the queue only via Redeliver, while
// Delete acknowledges them for good.
type MemoryQueue struct {
	mu       sync.Mutex
	queues   map[string][]memMessage
	inflight map[string]inflightMessage
	seq      int
}

type inflightMessage struct {
	queue string
	msg   memMessage
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		queues:   make(map[string][]memMessage),
		inflight: make(map[string]inflightMessage),
	}
}

func (q *MemoryQueue) Send(ctx context.Context, queueURL string, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	msg := memMessage{
		body:   append([]byte(nil), body...),
		handle: fmt.Sprintf("rh-%d", q.seq),
	}
	q.queues[queueURL] = append(q.queues[queueURL], msg)
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context, queueURL string, max int32, wait int32) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := q.queues[queueURL]
	n := int(max)
	if n > len(pending) {
		n = len(pending)
	}

	out := make([]Message, 0, n)
	for _, m := range pending[:n] {
		q.inflight[m.handle] = inflightMessage{queue: queueURL, msg: m}
		out = append(out, Message{Body: append([]byte(nil), m.body...), ReceiptHandle: m.handle})
	}
	q.queues[queueURL] = pending[n:]
	return out, nil
}

func (q *MemoryQueue) Delete(ctx context.Context, queueURL string, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, receiptHandle)
	return nil
}

// Redeliver returns every in-flight message to the front of its queue, as a
// visibility timeout would.
func (q *MemoryQueue) Redeliver() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for handle, inf := range q.inflight {
		q.queues[inf.queue] = append([]memMessage{inf.msg}, q.queues[inf.queue]...)
		delete(q.inflight, handle)
	}
}

// Len counts messages waiting on a queue (in-flight excluded).
func (q *MemoryQueue) Len(queueURL string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[queueURL])
}

// InflightLen counts received-but-unacknowledged messages.
func (q *MemoryQueue) InflightLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// Bodies returns the waiting message bodies on a queue, in order.
func (q *MemoryQueue) Bodies(queueURL string) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, 0, len(q.queues[queueURL]))
	for _, m := range q.queues[queueURL] {
		out = append(out, append([]byte(nil), m.body...))
	}
	return out
}
