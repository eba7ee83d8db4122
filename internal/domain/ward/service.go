package ward

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/careflow/internal/platform/apperr"
	"github.com/ehr/careflow/internal/platform/db"
	"github.com/ehr/careflow/internal/platform/metrics"
	"github.com/ehr/careflow/internal/platform/outbox"
)

// MaxBulkBeds bounds a single BulkAddBeds call.
const MaxBulkBeds = 500

var validBedStatuses = map[string]bool{
	BedAvailable:   true,
	BedOccupied:    true,
	BedMaintenance: true,
	BedReserved:    true,
}

type Service struct {
	tx     db.Transactor
	wards  WardRepository
	beds   BedRepository
	events outbox.Recorder
}

func NewService(tx db.Transactor, wards WardRepository, beds BedRepository) *Service {
	return &Service{tx: tx, wards: wards, beds: beds, events: outbox.Discard{}}
}

// SetOutbox attaches the recorder domain events are written to.
func (s *Service) SetOutbox(r outbox.Recorder) { s.events = r }

// -- Wards --

func (s *Service) CreateWard(ctx context.Context, w *Ward) error {
	if strings.TrimSpace(w.Name) == "" {
		return apperr.Validation("name is required")
	}
	if w.BedCapacity < 1 {
		return apperr.Validation("bed_capacity must be at least 1")
	}
	if w.DailyRate.IsNegative() {
		return apperr.Validation("daily_rate must not be negative")
	}
	if w.Category == "" {
		w.Category = "general"
	}
	w.DailyRate = w.DailyRate.Round(2)
	if err := s.wards.Create(ctx, w); err != nil {
		return fmt.Errorf("create ward: %w", err)
	}
	return nil
}

func (s *Service) getWard(ctx context.Context, id uuid.UUID, lock bool) (*Ward, error) {
	get := s.wards.GetByID
	if lock {
		get = s.wards.GetForUpdate
	}
	w, err := get(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound(apperr.CodeWardNotFound, id)
		}
		return nil, fmt.Errorf("get ward: %w", err)
	}
	return w, nil
}

// GetWard returns the ward with its current bed counts.
func (s *Service) GetWard(ctx context.Context, id uuid.UUID) (*Occupancy, error) {
	w, err := s.getWard(ctx, id, false)
	if err != nil {
		return nil, err
	}
	beds, err := s.beds.ListByWard(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list beds: %w", err)
	}
	occ := &Occupancy{Ward: w, TotalBeds: len(beds)}
	for _, b := range beds {
		switch b.Status {
		case BedOccupied:
			occ.Occupied++
		case BedAvailable:
			occ.Available++
		case BedMaintenance:
			occ.Maintenance++
		case BedReserved:
			occ.Reserved++
		}
	}
	return occ, nil
}

func (s *Service) ListWards(ctx context.Context, limit, offset int) ([]*Ward, int, error) {
	return s.wards.List(ctx, limit, offset)
}

// WardExists reports whether the ward is present.
func (s *Service) WardExists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := s.wards.GetByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("get ward: %w", err)
	}
	return true, nil
}

// DailyRate returns the ward's per-day room rate.
func (s *Service) DailyRate(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	w, err := s.getWard(ctx, id, false)
	if err != nil {
		return decimal.Zero, err
	}
	return w.DailyRate, nil
}

// -- Beds --

// AddBed creates an available bed in the ward. The ward row stays locked
// while capacity and number uniqueness are decided.
func (s *Service) AddBed(ctx context.Context, wardID uuid.UUID, bedNumber string) (bed *Bed, err error) {
	defer metrics.Observe("ward.add_bed", time.Now(), &err)

	bedNumber = strings.TrimSpace(bedNumber)
	if bedNumber == "" {
		return nil, apperr.Validation("bed_number is required")
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		w, err := s.getWard(ctx, wardID, true)
		if err != nil {
			return err
		}
		count, err := s.beds.CountByWard(ctx, wardID)
		if err != nil {
			return fmt.Errorf("count beds: %w", err)
		}
		if count >= w.BedCapacity {
			return apperr.New(apperr.CodeWardFull, "ward %s is at capacity", w.Name).
				With("current", count).
				With("capacity", w.BedCapacity)
		}
		exists, err := s.beds.NumberExists(ctx, wardID, bedNumber)
		if err != nil {
			return fmt.Errorf("check bed number: %w", err)
		}
		if exists {
			return bedNumberTaken(bedNumber)
		}

		bed = &Bed{WardID: wardID, BedNumber: bedNumber, Status: BedAvailable}
		if err := s.createBed(ctx, bed); err != nil {
			return err
		}
		return outbox.Emit(ctx, s.events, "bed", bed.ID, outbox.BedAdded, bed)
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("ward_id", wardID.String()).Str("bed_number", bedNumber).Msg("bed added")
	return bed, nil
}

// BulkAddBeds creates count beds numbered <prefix>-NNN, continuing from the
// highest numeric suffix already used for the prefix. The batch is checked
// against capacity as a whole; either every bed is created or none is.
func (s *Service) BulkAddBeds(ctx context.Context, wardID uuid.UUID, prefix string, count int) (beds []*Bed, err error) {
	defer metrics.Observe("ward.bulk_add_beds", time.Now(), &err)

	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, apperr.Validation("prefix is required")
	}
	if count < 1 || count > MaxBulkBeds {
		return nil, apperr.Validation("count must be between 1 and %d", MaxBulkBeds)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		w, err := s.getWard(ctx, wardID, true)
		if err != nil {
			return err
		}
		current, err := s.beds.CountByWard(ctx, wardID)
		if err != nil {
			return fmt.Errorf("count beds: %w", err)
		}
		if available := w.BedCapacity - current; count > available {
			if available < 0 {
				available = 0
			}
			return apperr.New(apperr.CodeInsufficientCapacity, "ward %s has room for %d more beds", w.Name, available).
				With("available", available).
				With("requested", count)
		}

		existing, err := s.beds.NumbersWithPrefix(ctx, wardID, prefix+"-")
		if err != nil {
			return fmt.Errorf("list bed numbers: %w", err)
		}
		next := HighestSuffix(prefix, existing) + 1

		beds = make([]*Bed, 0, count)
		for i := 0; i < count; i++ {
			number := FormatBedNumber(prefix, next+i)
			exists, err := s.beds.NumberExists(ctx, wardID, number)
			if err != nil {
				return fmt.Errorf("check bed number: %w", err)
			}
			if exists {
				return bedNumberTaken(number)
			}
			b := &Bed{WardID: wardID, BedNumber: number, Status: BedAvailable}
			if err := s.createBed(ctx, b); err != nil {
				return err
			}
			if err := outbox.Emit(ctx, s.events, "bed", b.ID, outbox.BedAdded, b); err != nil {
				return err
			}
			beds = append(beds, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("ward_id", wardID.String()).Str("prefix", prefix).Int("count", count).Msg("beds added")
	return beds, nil
}

func (s *Service) createBed(ctx context.Context, b *Bed) error {
	if err := s.beds.Create(ctx, b); err != nil {
		if db.IsUniqueViolation(err, "") {
			return bedNumberTaken(b.BedNumber)
		}
		return fmt.Errorf("create bed: %w", err)
	}
	return nil
}

func bedNumberTaken(number string) error {
	return apperr.New(apperr.CodeBedNumberExists, "bed number %s already exists in this ward", number).
		With("bed_number", number)
}

// HighestSuffix returns the largest N among numbers of the form <prefix>-N,
// or 0 when there are none.
func HighestSuffix(prefix string, numbers []string) int {
	highest := 0
	for _, n := range numbers {
		rest, ok := strings.CutPrefix(n, prefix+"-")
		if !ok || rest == "" {
			continue
		}
		v, err := strconv.Atoi(rest)
		if err != nil || v < 0 {
			continue
		}
		if v > highest {
			highest = v
		}
	}
	return highest
}

// FormatBedNumber renders <prefix>-NNN with at least three digits.
func FormatBedNumber(prefix string, n int) string {
	return fmt.Sprintf("%s-%03d", prefix, n)
}

func (s *Service) getBed(ctx context.Context, id uuid.UUID, lock bool) (*Bed, error) {
	get := s.beds.GetByID
	if lock {
		get = s.beds.GetForUpdate
	}
	b, err := get(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound(apperr.CodeBedNotFound, id)
		}
		return nil, fmt.Errorf("get bed: %w", err)
	}
	return b, nil
}

func (s *Service) GetBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return s.getBed(ctx, id, false)
}

// UpdateBedStatus sets an administrative status. Occupancy belongs to
// admissions: setting occupied is rejected and an occupied bed cannot be
// changed here.
func (s *Service) UpdateBedStatus(ctx context.Context, id uuid.UUID, status string) (bed *Bed, err error) {
	defer metrics.Observe("ward.update_bed_status", time.Now(), &err)

	if !validBedStatuses[status] {
		return nil, apperr.Validation("invalid bed status: %s", status)
	}
	if status == BedOccupied {
		return nil, apperr.Validation("occupied is set by admission only")
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.getBed(ctx, id, true)
		if err != nil {
			return err
		}
		if b.Status == BedOccupied || b.CurrentPatientID != nil {
			return apperr.New(apperr.CodeBedOccupied, "bed %s is occupied", b.BedNumber).With("bed_id", id.String())
		}
		if err := s.beds.UpdateStatus(ctx, id, status); err != nil {
			return fmt.Errorf("update bed status: %w", err)
		}
		b.Status = status
		bed = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bed, nil
}

func (s *Service) DeleteBed(ctx context.Context, id uuid.UUID) (err error) {
	defer metrics.Observe("ward.delete_bed", time.Now(), &err)

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.getBed(ctx, id, true)
		if err != nil {
			return err
		}
		if b.Status == BedOccupied || b.CurrentPatientID != nil {
			return apperr.New(apperr.CodeBedOccupied, "bed %s is occupied", b.BedNumber).With("bed_id", id.String())
		}
		if err := s.beds.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete bed: %w", err)
		}
		return nil
	})
}

func (s *Service) ListBeds(ctx context.Context, wardID uuid.UUID) ([]*Bed, error) {
	if _, err := s.getWard(ctx, wardID, false); err != nil {
		return nil, err
	}
	return s.beds.ListByWard(ctx, wardID)
}

func (s *Service) ListAvailableBeds(ctx context.Context, wardID uuid.UUID) ([]*Bed, error) {
	beds, err := s.ListBeds(ctx, wardID)
	if err != nil {
		return nil, err
	}
	out := make([]*Bed, 0, len(beds))
	for _, b := range beds {
		if b.Status == BedAvailable {
			out = append(out, b)
		}
	}
	return out, nil
}
