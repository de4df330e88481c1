package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"anoa.com/trafficexchange/internal/entity"
	earningsDto "anoa.com/trafficexchange/internal/modules/earnings/dto"
	earningsRepo "anoa.com/trafficexchange/internal/modules/earnings/repository"
	notifService "anoa.com/trafficexchange/internal/modules/notification/service"
	points "anoa.com/trafficexchange/internal/modules/points/service"
	"anoa.com/trafficexchange/pkg/apperror"
	"anoa.com/trafficexchange/pkg/database"
	"anoa.com/trafficexchange/pkg/dto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	SourceConversion = "conversion"

	// Earnings are stored with six decimal places.
	amountScale = 6
)

type EarningsService interface {
	LockEarnings(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, source string) (*entity.EarningsLedgerEntry, error)
	LockEarningsTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal, source string) (*entity.EarningsLedgerEntry, error)
	ConvertPoints(ctx context.Context, userID uuid.UUID, req earningsDto.ConvertRequest) (*earningsDto.ConvertResponse, error)
	// UnlockDue moves every due locked entry to available and returns how
	// many this call moved. Concurrent calls never move an entry twice.
	UnlockDue(ctx context.Context) (int, error)
	Summary(ctx context.Context, userID uuid.UUID, query earningsDto.EarningsQuery) (*earningsDto.SummaryResponse, error)
	AvailableBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	DebitAvailable(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*earningsDto.DebitResponse, error)
}

type Options struct {
	HoldPeriod     time.Duration
	ConversionRate decimal.Decimal
	BatchSize      int
	ClaimTTL       time.Duration
	Now            func() time.Time
}

type earningsService struct {
	db     *gorm.DB
	repo   earningsRepo.EarningsRepository
	points points.PointsService
	events notifService.EventPublisher
	log    *zap.Logger
	opts   Options
}

func NewEarningsService(
	db *gorm.DB,
	repo earningsRepo.EarningsRepository,
	pointsService points.PointsService,
	events notifService.EventPublisher,
	log *zap.Logger,
	opts Options,
) EarningsService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 5 * time.Minute
	}
	return &earningsService{
		db:     db,
		repo:   repo,
		points: pointsService,
		events: events,
		log:    log,
		opts:   opts,
	}
}

func (s *earningsService) now() time.Time {
	return s.opts.Now().UTC()
}

func (s *earningsService) LockEarningsTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal, source string) (*entity.EarningsLedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("earnings amount must be positive: %w", apperror.ErrInvalidInput)
	}

	now := s.now()
	entry := &entity.EarningsLedgerEntry{
		UserID:     userID,
		Amount:     amount,
		Status:     entity.EarningsLocked,
		SourceKind: source,
		UnlockAt:   now.Add(s.opts.HoldPeriod),
		CreatedAt:  now,
	}
	if err := s.repo.Create(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *earningsService) LockEarnings(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, source string) (*entity.EarningsLedgerEntry, error) {
	var entry *entity.EarningsLedgerEntry
	err := database.WithTx(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		entry, err = s.LockEarningsTx(ctx, tx, userID, amount, source)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, userID, notifService.EventEarningsLocked, amount)
	return entry, nil
}

// ConvertPoints debits points and locks their monetary value in one
// transaction. The value is rounded down to the storage scale.
func (s *earningsService) ConvertPoints(ctx context.Context, userID uuid.UUID, req earningsDto.ConvertRequest) (*earningsDto.ConvertResponse, error) {
	pts, err := decimal.NewFromString(strings.TrimSpace(req.Points))
	if err != nil || !pts.IsPositive() {
		return nil, apperror.New(http.StatusBadRequest, "points must be a positive decimal", apperror.ErrInvalidInput)
	}
	amount := pts.Mul(s.opts.ConversionRate).RoundDown(amountScale)
	if !amount.IsPositive() {
		return nil, apperror.New(http.StatusBadRequest, "too few points to convert", apperror.ErrInvalidInput)
	}

	var (
		debit *entity.PointsLedgerEntry
		entry *entity.EarningsLedgerEntry
	)
	err = database.WithTx(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		note := fmt.Sprintf("converted to %s", amount.String())
		if debit, err = s.points.DebitTx(ctx, tx, userID, pts, entity.KindConversion, note); err != nil {
			return err
		}
		entry, err = s.LockEarningsTx(ctx, tx, userID, amount, SourceConversion)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.points.Notify(ctx, debit)
	s.publish(ctx, userID, notifService.EventEarningsLocked, amount)

	return &earningsDto.ConvertResponse{
		PointsDebited: pts,
		Entry:         earningsDto.ToEntryResponse(entry),
	}, nil
}

func (s *earningsService) UnlockDue(ctx context.Context) (int, error) {
	worker := uuid.NewString()
	unlocked := 0

	for {
		now := s.now()
		ids, err := s.repo.ClaimDue(ctx, worker, now, s.opts.ClaimTTL, s.opts.BatchSize)
		if err != nil {
			return unlocked, fmt.Errorf("claim due earnings: %w", err)
		}

		for _, id := range ids {
			entry, ok, err := s.repo.Unlock(ctx, id, worker, now)
			if err != nil {
				return unlocked, fmt.Errorf("unlock earnings %s: %w", id, err)
			}
			if !ok {
				continue
			}
			unlocked++
			s.publish(ctx, entry.UserID, notifService.EventEarningsUnlock, entry.Amount)
		}

		if len(ids) < s.opts.BatchSize {
			break
		}
		if err := ctx.Err(); err != nil {
			return unlocked, err
		}
	}

	if unlocked > 0 {
		s.log.Info("earnings unlocked", zap.Int("count", unlocked), zap.String("worker", worker))
	}
	return unlocked, nil
}

func (s *earningsService) Summary(ctx context.Context, userID uuid.UUID, query earningsDto.EarningsQuery) (*earningsDto.SummaryResponse, error) {
	query.Normalize()

	totals, err := s.repo.Totals(ctx, userID)
	if err != nil {
		return nil, err
	}
	next, err := s.repo.NextUnlock(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries, total, err := s.repo.ListByUser(ctx, userID, query.Limit, query.Offset())
	if err != nil {
		return nil, err
	}

	resp := &earningsDto.SummaryResponse{
		Locked:     totals.Locked,
		Available:  totals.Available,
		NextUnlock: next,
		Entries:    make([]earningsDto.EntryResponse, 0, len(entries)),
		Meta:       dto.NewPaginationMeta(query.Page, query.Limit, total),
	}
	for i := range entries {
		resp.Entries = append(resp.Entries, earningsDto.ToEntryResponse(&entries[i]))
	}
	return resp, nil
}

func (s *earningsService) AvailableBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return s.repo.SumByStatus(ctx, userID, entity.EarningsAvailable)
}

// DebitAvailable withdraws amount from the user's available entries, oldest
// unlock first. When the last entry is larger than what is left to take it
// is cancelled and replaced by a withdrawn part and an available remainder,
// both keeping the original unlock time.
func (s *earningsService) DebitAvailable(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*earningsDto.DebitResponse, error) {
	if !amount.IsPositive() {
		return nil, apperror.New(http.StatusBadRequest, "amount must be positive", apperror.ErrInvalidInput)
	}
	// Never take more than was asked for.
	if !amount.Equal(amount.Truncate(amountScale)) {
		return nil, apperror.New(http.StatusBadRequest, "amount has more than 6 decimal places", apperror.ErrInvalidInput)
	}

	var withdrawn []uuid.UUID
	err := database.WithTx(ctx, s.db, func(tx *gorm.DB) error {
		entries, err := s.repo.LockAvailable(ctx, tx, userID)
		if err != nil {
			return err
		}

		available := decimal.Zero
		for _, e := range entries {
			available = available.Add(e.Amount)
		}
		if available.LessThan(amount) {
			return apperror.ErrInsufficientFunds
		}

		remaining := amount
		for i := range entries {
			if !remaining.IsPositive() {
				break
			}
			e := &entries[i]

			if e.Amount.LessThanOrEqual(remaining) {
				if err := s.repo.SetStatus(ctx, tx, e.ID, entity.EarningsAvailable, entity.EarningsWithdrawn); err != nil {
					return err
				}
				withdrawn = append(withdrawn, e.ID)
				remaining = remaining.Sub(e.Amount)
				continue
			}

			taken, err := s.split(ctx, tx, e, remaining)
			if err != nil {
				return err
			}
			withdrawn = append(withdrawn, taken)
			remaining = decimal.Zero
		}

		return s.repo.DebitUserAvailable(ctx, tx, userID, amount)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, userID, notifService.EventEarningsDebited, amount.Neg())
	s.log.Info("earnings withdrawn",
		zap.String("user_id", userID.String()),
		zap.String("amount", amount.String()),
		zap.Int("entries", len(withdrawn)))

	return &earningsDto.DebitResponse{UserID: userID, Amount: amount, Withdrawn: withdrawn}, nil
}

func (s *earningsService) split(ctx context.Context, tx *gorm.DB, parent *entity.EarningsLedgerEntry, take decimal.Decimal) (uuid.UUID, error) {
	if err := s.repo.SetStatus(ctx, tx, parent.ID, entity.EarningsAvailable, entity.EarningsCancelled); err != nil {
		return uuid.Nil, err
	}

	now := s.now()
	child := func(amount decimal.Decimal, status entity.EarningsStatus) *entity.EarningsLedgerEntry {
		return &entity.EarningsLedgerEntry{
			UserID:      parent.UserID,
			Amount:      amount,
			Status:      status,
			SourceKind:  parent.SourceKind,
			UnlockAt:    parent.UnlockAt,
			AvailableAt: parent.AvailableAt,
			SplitFromID: &parent.ID,
			CreatedAt:   now,
		}
	}

	out := child(take, entity.EarningsWithdrawn)
	if err := s.repo.CreateChild(ctx, tx, out); err != nil {
		return uuid.Nil, err
	}
	if err := s.repo.CreateChild(ctx, tx, child(parent.Amount.Sub(take), entity.EarningsAvailable)); err != nil {
		return uuid.Nil, err
	}
	return out.ID, nil
}

func (s *earningsService) publish(ctx context.Context, userID uuid.UUID, eventType string, amount decimal.Decimal) {
	s.events.Publish(ctx, notifService.BalanceEvent{
		UserID: userID,
		Type:   eventType,
		Amount: amount,
		At:     s.now(),
	})
}
