// Package memory provides an in-memory implementation of every repository
// used by the engine, for tests and single-process deployments. Units of
// work run one at a time against a cloned copy of the state that replaces
// the live state only when the unit succeeds.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/careflow/internal/domain/admission"
	"github.com/ehr/careflow/internal/domain/billing"
	"github.com/ehr/careflow/internal/domain/encounter"
	"github.com/ehr/careflow/internal/domain/identity"
	"github.com/ehr/careflow/internal/domain/inventory"
	"github.com/ehr/careflow/internal/domain/nursing"
	"github.com/ehr/careflow/internal/domain/task"
	"github.com/ehr/careflow/internal/domain/ward"
	"github.com/ehr/careflow/internal/platform/db"
	"github.com/ehr/careflow/internal/platform/outbox"
)

// Snapshot is the complete, serialisable store state.
type Snapshot struct {
	Patients      map[uuid.UUID]identity.Patient           `json:"patients"`
	Staff         map[uuid.UUID]identity.Staff             `json:"staff"`
	Assignments   map[uuid.UUID]identity.NurseAssignment   `json:"assignments"`
	Wards         map[uuid.UUID]ward.Ward                  `json:"wards"`
	Beds          map[uuid.UUID]ward.Bed                   `json:"beds"`
	Admissions    map[uuid.UUID]admission.Admission        `json:"admissions"`
	Records       map[uuid.UUID]encounter.MedicalRecord    `json:"records"`
	NursingNotes  map[uuid.UUID]encounter.NursingNote      `json:"nursing_notes"`
	Prescriptions map[uuid.UUID]encounter.PrescriptionItem `json:"prescriptions"`
	NurseTasks    map[uuid.UUID]task.NurseTask             `json:"nurse_tasks"`
	LabOrders     map[uuid.UUID]task.LabOrder              `json:"lab_orders"`
	LabTests      map[uuid.UUID]task.LabOrderTest          `json:"lab_tests"`
	Items         map[uuid.UUID]inventory.Item             `json:"items"`
	StockLedger   map[uuid.UUID]inventory.Transaction      `json:"stock_ledger"`
	Vitals        map[uuid.UUID]nursing.VitalSign          `json:"vitals"`
	Bills         map[uuid.UUID]billing.Bill               `json:"bills"`
	BillItems     map[uuid.UUID]billing.BillItem           `json:"bill_items"`
	Payments      map[uuid.UUID]billing.Payment            `json:"payments"`
	Outbox        map[uuid.UUID]outbox.Event               `json:"outbox"`
}

// NewSnapshot returns an empty state.
func NewSnapshot() *Snapshot {
	s := &Snapshot{}
	s.init()
	return s
}

// init allocates any bucket left nil, e.g. after decoding an older snapshot.
func (s *Snapshot) init() {
	initMap(&s.Patients)
	initMap(&s.Staff)
	initMap(&s.Assignments)
	initMap(&s.Wards)
	initMap(&s.Beds)
	initMap(&s.Admissions)
	initMap(&s.Records)
	initMap(&s.NursingNotes)
	initMap(&s.Prescriptions)
	initMap(&s.NurseTasks)
	initMap(&s.LabOrders)
	initMap(&s.LabTests)
	initMap(&s.Items)
	initMap(&s.StockLedger)
	initMap(&s.Vitals)
	initMap(&s.Bills)
	initMap(&s.BillItems)
	initMap(&s.Payments)
	initMap(&s.Outbox)
}

// Buckets names every bucket of the snapshot, pointing at its map so callers
// can encode or decode each one independently.
func (s *Snapshot) Buckets() map[string]interface{} {
	return map[string]interface{}{
		"patients":      &s.Patients,
		"staff":         &s.Staff,
		"assignments":   &s.Assignments,
		"wards":         &s.Wards,
		"beds":          &s.Beds,
		"admissions":    &s.Admissions,
		"records":       &s.Records,
		"nursing_notes": &s.NursingNotes,
		"prescriptions": &s.Prescriptions,
		"nurse_tasks":   &s.NurseTasks,
		"lab_orders":    &s.LabOrders,
		"lab_tests":     &s.LabTests,
		"items":         &s.Items,
		"stock_ledger":  &s.StockLedger,
		"vitals":        &s.Vitals,
		"bills":         &s.Bills,
		"bill_items":    &s.BillItems,
		"payments":      &s.Payments,
		"outbox":        &s.Outbox,
	}
}

// Clone copies every bucket. Entities are stored by value and repositories
// always replace whole values, so copying the maps is enough.
func (s *Snapshot) Clone() *Snapshot {
	return &Snapshot{
		Patients:      cloneMap(s.Patients),
		Staff:         cloneMap(s.Staff),
		Assignments:   cloneMap(s.Assignments),
		Wards:         cloneMap(s.Wards),
		Beds:          cloneMap(s.Beds),
		Admissions:    cloneMap(s.Admissions),
		Records:       cloneMap(s.Records),
		NursingNotes:  cloneMap(s.NursingNotes),
		Prescriptions: cloneMap(s.Prescriptions),
		NurseTasks:    cloneMap(s.NurseTasks),
		LabOrders:     cloneMap(s.LabOrders),
		LabTests:      cloneMap(s.LabTests),
		Items:         cloneMap(s.Items),
		StockLedger:   cloneMap(s.StockLedger),
		Vitals:        cloneMap(s.Vitals),
		Bills:         cloneMap(s.Bills),
		BillItems:     cloneMap(s.BillItems),
		Payments:      cloneMap(s.Payments),
		Outbox:        cloneMap(s.Outbox),
	}
}

func initMap[T any](m *map[uuid.UUID]T) {
	if *m == nil {
		*m = make(map[uuid.UUID]T)
	}
}

func cloneMap[T any](m map[uuid.UUID]T) map[uuid.UUID]T {
	out := make(map[uuid.UUID]T, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CommitHook runs with the store locked after a unit of work succeeds and
// before its state becomes visible. An error aborts the commit.
type CommitHook func(ctx context.Context, next *Snapshot) error

// Option configures a Store.
type Option func(*Store)

// WithSnapshot seeds the store with previously persisted state.
func WithSnapshot(s *Snapshot) Option {
	return func(st *Store) {
		if s != nil {
			s.init()
			st.state = s
		}
	}
}

// WithCommitHook registers a hook run on every commit.
func WithCommitHook(h CommitHook) Option {
	return func(st *Store) { st.onCommit = h }
}

// WithClock overrides the clock used to stamp rows created without a
// timestamp.
func WithClock(now func() time.Time) Option {
	return func(st *Store) { st.now = now }
}

// Store is the in-memory backend. It implements db.Transactor; accessor
// methods return the domain repositories backed by it.
type Store struct {
	mu       sync.RWMutex
	state    *Snapshot
	now      func() time.Time
	onCommit CommitHook
}

var _ db.Transactor = (*Store)(nil)

func New(opts ...Option) *Store {
	s := &Store{
		state: NewSnapshot(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type unitKey struct{}

type unit struct {
	store *Store
	state *Snapshot
}

func (s *Store) unitFrom(ctx context.Context) *unit {
	u, _ := ctx.Value(unitKey{}).(*unit)
	if u == nil || u.store != s {
		return nil
	}
	return u
}

// WithinTx runs fn as one unit of work. Units are serialised behind the
// store's write lock; a nested call joins the unit already on ctx.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.unitFrom(ctx) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := &unit{store: s, state: s.state.Clone()}
	if err := fn(context.WithValue(ctx, unitKey{}, u)); err != nil {
		return err
	}
	if s.onCommit != nil {
		if err := s.onCommit(ctx, u.state); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	s.state = u.state
	return nil
}

// read runs fn against the unit's state when ctx carries one, otherwise
// against the committed state under the read lock.
func (s *Store) read(ctx context.Context, fn func(st *Snapshot) error) error {
	if u := s.unitFrom(ctx); u != nil {
		return fn(u.state)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

// write runs fn inside the unit on ctx, or inside a new single-statement
// unit.
func (s *Store) write(ctx context.Context, fn func(st *Snapshot) error) error {
	if u := s.unitFrom(ctx); u != nil {
		return fn(u.state)
	}
	return s.WithinTx(ctx, func(ctx context.Context) error {
		return fn(s.unitFrom(ctx).state)
	})
}

// Export returns a copy of the committed state.
func (s *Store) Export() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Ping satisfies the health check contract.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) stamp(t *time.Time) {
	if t.IsZero() {
		*t = s.now()
	}
}

func newID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func get[T any](m map[uuid.UUID]T, id uuid.UUID) (*T, error) {
	v, ok := m[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &v, nil
}

func filter[T any](m map[uuid.UUID]T, keep func(v *T) bool) []*T {
	out := make([]*T, 0)
	for _, v := range m {
		v := v
		if keep(&v) {
			out = append(out, &v)
		}
	}
	return out
}

func sortBy[T any](items []*T, less func(a, b *T) bool) {
	sort.SliceStable(items, func(i, j int) bool { return less(items[i], items[j]) })
}

func within(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

func errDuplicate(constraint string) error {
	return &db.UniqueViolation{Constraint: constraint}
}
