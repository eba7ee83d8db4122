package outbox

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// -- fakes --

type passthroughTx struct {
	calls int
	open  bool
}

func (p *passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	p.calls++
	p.open = true
	defer func() { p.open = false }()
	return fn(ctx)
}

type fakeStore struct {
	mu     sync.Mutex
	events map[uuid.UUID]*Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{events: make(map[uuid.UUID]*Event)}
}

func (f *fakeStore) Record(_ context.Context, e *Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *e
	f.events[e.ID] = &cp
	return nil
}

func (f *fakeStore) ClaimPending(_ context.Context, limit, maxAttempts int) ([]*Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Event
	for _, e := range f.events {
		if e.PublishedAt == nil && e.Attempts < maxAttempts {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) MarkPublished(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[id].PublishedAt = &at
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[id].Attempts++
	f.events[id].LastError = &reason
	return nil
}

func (f *fakeStore) PendingCount(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.PublishedAt == nil {
			n++
		}
	}
	return n, nil
}

type recordingSink struct {
	name string
	fail map[string]bool
	got  []string
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, e *Event) error {
	if s.fail[e.EventType] {
		return errors.New("broker unavailable")
	}
	s.got = append(s.got, e.EventType)
	return nil
}

// -- tests --

func TestNewEvent(t *testing.T) {
	id := uuid.New()
	e, err := NewEvent("bed", id, BedAdded, map[string]string{"bed_number": "A-001"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.ID == uuid.Nil {
		t.Error("expected generated ID")
	}
	if string(e.Payload) != `{"bed_number":"A-001"}` {
		t.Errorf("unexpected payload %s", e.Payload)
	}
	if e.Key() != "bed-"+id.String() {
		t.Errorf("unexpected key %s", e.Key())
	}
}

func TestNewEvent_UnmarshalablePayload(t *testing.T) {
	if _, err := NewEvent("bed", uuid.New(), BedAdded, make(chan int)); err == nil {
		t.Error("expected marshal error")
	}
}

func TestEmit_Discard(t *testing.T) {
	if err := Emit(context.Background(), Discard{}, "bill", uuid.New(), BillGenerated, struct{}{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRelayFlush_PublishesAndMarks(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	for _, typ := range []string{AdmissionAdmitted, BillGenerated, PaymentReceived} {
		if err := Emit(ctx, store, "x", uuid.New(), typ, struct{}{}); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}

	sink := &recordingSink{name: "rec"}
	tx := &passthroughTx{}
	relay := NewRelay(store, tx, []Sink{sink}, RelayConfig{}, zerolog.Nop())

	n, err := relay.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 published, got %d", n)
	}
	if tx.calls != 1 {
		t.Errorf("expected one unit of work, got %d", tx.calls)
	}
	pending, _ := store.PendingCount(ctx)
	if pending != 0 {
		t.Errorf("expected 0 pending, got %d", pending)
	}

	n, _ = relay.Flush(ctx)
	if n != 0 {
		t.Errorf("expected nothing left to publish, got %d", n)
	}
}

func TestRelayFlush_FailureRecordsAttempt(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	_ = Emit(ctx, store, "bill", uuid.New(), BillGenerated, struct{}{})

	sink := &recordingSink{name: "rec", fail: map[string]bool{BillGenerated: true}}
	relay := NewRelay(store, &passthroughTx{}, []Sink{sink}, RelayConfig{MaxAttempts: 2}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		if _, err := relay.Flush(ctx); err != nil {
			t.Fatalf("Flush: %v", err)
		}
	}
	for _, e := range store.events {
		if e.Attempts != 2 {
			t.Errorf("expected attempts capped at 2, got %d", e.Attempts)
		}
		if e.LastError == nil || !strings.Contains(*e.LastError, "broker unavailable") {
			t.Errorf("expected last error recorded, got %v", e.LastError)
		}
		if e.PublishedAt != nil {
			t.Error("failed event must stay unpublished")
		}
	}
}

type unitCheckSink struct {
	tx      *passthroughTx
	inUnit  int
	outUnit int
}

func (s *unitCheckSink) Name() string { return "unit-check" }

func (s *unitCheckSink) Publish(context.Context, *Event) error {
	if s.tx.open {
		s.inUnit++
	} else {
		s.outUnit++
	}
	return nil
}

func TestRelayFlush_SplitUnitsPublishesOutsideUnit(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	for _, typ := range []string{BedAdded, BillGenerated} {
		_ = Emit(ctx, store, "x", uuid.New(), typ, struct{}{})
	}
	failing := &recordingSink{name: "rec", fail: map[string]bool{BillGenerated: true}}

	tx := &passthroughTx{}
	sink := &unitCheckSink{tx: tx}
	relay := NewRelay(store, tx, []Sink{sink, failing}, RelayConfig{SplitUnits: true}, zerolog.Nop())

	n, err := relay.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 published, got %d", n)
	}
	if sink.inUnit != 0 || sink.outUnit != 2 {
		t.Errorf("sinks must run outside units of work: inside=%d outside=%d", sink.inUnit, sink.outUnit)
	}
	if tx.calls != 2 {
		t.Errorf("expected claim and mark units, got %d", tx.calls)
	}
	pending, _ := store.PendingCount(ctx)
	if pending != 1 {
		t.Errorf("failed event should stay pending, got %d pending", pending)
	}

	// Nothing to claim means no second unit.
	store = newFakeStore()
	tx.calls = 0
	relay = NewRelay(store, tx, []Sink{sink}, RelayConfig{SplitUnits: true}, zerolog.Nop())
	if n, err := relay.Flush(ctx); err != nil || n != 0 {
		t.Fatalf("empty Flush = %d, %v", n, err)
	}
	if tx.calls != 1 {
		t.Errorf("expected only the claim unit, got %d", tx.calls)
	}
}

func TestRelayRun_StopsOnCancel(t *testing.T) {
	relay := NewRelay(newFakeStore(), &passthroughTx{}, nil, RelayConfig{PollInterval: time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := relay.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSink_Publish(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{writer: w, topic: "careflow.events"}
	e, _ := NewEvent("admission", uuid.New(), AdmissionDischarged, map[string]string{"summary": "stable"})

	if err := sink.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != e.Key() {
		t.Errorf("expected key %s, got %s", e.Key(), w.msgs[0].Key)
	}
	var typ string
	for _, h := range w.msgs[0].Headers {
		if h.Key == "event_type" {
			typ = string(h.Value)
		}
	}
	if typ != AdmissionDischarged {
		t.Errorf("expected event_type header, got %q", typ)
	}
}

func TestKafkaSink_WriteError(t *testing.T) {
	sink := &KafkaSink{writer: &fakeWriter{err: errors.New("leader not available")}, topic: "t"}
	e, _ := NewEvent("bill", uuid.New(), BillGenerated, struct{}{})
	if err := sink.Publish(context.Background(), e); err == nil {
		t.Error("expected error")
	}
}

func TestNewKafkaSink_RequiresBrokers(t *testing.T) {
	if _, err := NewKafkaSink(" ", "t"); err == nil {
		t.Error("expected error for empty broker list")
	}
}

type fakePutter struct {
	keys   []string
	bodies []string
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, _ := io.ReadAll(in.Body)
	f.keys = append(f.keys, *in.Key)
	f.bodies = append(f.bodies, string(b))
	return &s3.PutObjectOutput{}, nil
}

func TestS3Sink_ArchivesOnlyBills(t *testing.T) {
	putter := &fakePutter{}
	sink := newS3Sink(putter, "bills")
	ctx := context.Background()

	admitted, _ := NewEvent("admission", uuid.New(), AdmissionAdmitted, struct{}{})
	bill, _ := NewEvent("bill", uuid.New(), BillGenerated, map[string]string{"total": "1180.00"})

	if err := sink.Publish(ctx, admitted); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := sink.Publish(ctx, bill); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(putter.keys) != 1 {
		t.Fatalf("expected 1 object, got %d", len(putter.keys))
	}
	if putter.keys[0] != ObjectKey(bill) {
		t.Errorf("unexpected key %s", putter.keys[0])
	}
	if !strings.HasPrefix(putter.keys[0], "bill/") {
		t.Errorf("expected key under bill/, got %s", putter.keys[0])
	}
	if putter.bodies[0] != `{"total":"1180.00"}` {
		t.Errorf("unexpected body %s", putter.bodies[0])
	}
}

func TestNewS3Sink_RequiresBucket(t *testing.T) {
	if _, err := NewS3Sink(context.Background(), S3Config{}); err == nil {
		t.Error("expected error for missing bucket")
	}
}
