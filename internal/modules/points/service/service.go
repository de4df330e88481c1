package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"anoa.com/trafficexchange/internal/entity"
	dirRepo "anoa.com/trafficexchange/internal/modules/directory/repository"
	notifService "anoa.com/trafficexchange/internal/modules/notification/service"
	pointsDto "anoa.com/trafficexchange/internal/modules/points/dto"
	pointsRepo "anoa.com/trafficexchange/internal/modules/points/repository"
	"anoa.com/trafficexchange/pkg/apperror"
	"anoa.com/trafficexchange/pkg/database"
	"anoa.com/trafficexchange/pkg/dto"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DailyCounter reports the view points a user earned on one calendar day.
type DailyCounter interface {
	DailyEarned(ctx context.Context, db *gorm.DB, userID uuid.UUID, date time.Time) (decimal.Decimal, error)
}

type PointsService interface {
	// CreditTx appends a positive entry inside tx. Callers that own the
	// transaction publish the balance event after commit.
	CreditTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal, kind entity.PointsKind, sessionID *uuid.UUID, note string) (*entity.PointsLedgerEntry, error)
	DebitTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal, kind entity.PointsKind, note string) (*entity.PointsLedgerEntry, error)
	Credit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, kind entity.PointsKind, sessionID *uuid.UUID, note string) (*entity.PointsLedgerEntry, error)
	Debit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, kind entity.PointsKind, note string) (*entity.PointsLedgerEntry, error)
	Notify(ctx context.Context, entry *entity.PointsLedgerEntry)
	Balance(ctx context.Context, userID uuid.UUID) (*pointsDto.BalanceResponse, error)
	DailyEarned(ctx context.Context, userID uuid.UUID, date time.Time) (decimal.Decimal, error)
	History(ctx context.Context, userID uuid.UUID, query pointsDto.HistoryQuery) (*pointsDto.PaginatedHistoryResponse, error)
	ApplyReferral(ctx context.Context, newUserID uuid.UUID, code string) (*pointsDto.ReferralResponse, error)
	Reconcile(ctx context.Context, userID uuid.UUID, fix bool) (*pointsDto.ReconcileResponse, error)
	AdminAdjust(ctx context.Context, adminID uuid.UUID, req pointsDto.AdjustRequest) (*pointsDto.LedgerEntryResponse, error)
}

type Options struct {
	ReferralBonus decimal.Decimal
	Now           func() time.Time
}

type pointsService struct {
	db        *gorm.DB
	repo      pointsRepo.PointsRepository
	directory dirRepo.DirectoryRepository
	daily     DailyCounter
	events    notifService.EventPublisher
	sanitizer *bluemonday.Policy
	log       *zap.Logger
	opts      Options
}

func NewPointsService(
	db *gorm.DB,
	repo pointsRepo.PointsRepository,
	directory dirRepo.DirectoryRepository,
	daily DailyCounter,
	events notifService.EventPublisher,
	log *zap.Logger,
	opts Options,
) PointsService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &pointsService{
		db:        db,
		repo:      repo,
		directory: directory,
		daily:     daily,
		events:    events,
		sanitizer: bluemonday.StrictPolicy(),
		log:       log,
		opts:      opts,
	}
}

func (s *pointsService) now() time.Time {
	return s.opts.Now().UTC()
}

func (s *pointsService) CreditTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal, kind entity.PointsKind, sessionID *uuid.UUID, note string) (*entity.PointsLedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("credit amount must be positive: %w", apperror.ErrInvalidInput)
	}
	if kind == entity.KindViewEarn && sessionID == nil {
		return nil, fmt.Errorf("view credit without a session: %w", apperror.ErrInvalidInput)
	}

	entry := &entity.PointsLedgerEntry{
		UserID:    userID,
		Amount:    amount,
		Kind:      kind,
		SessionID: sessionID,
		Note:      note,
		CreatedAt: s.now(),
	}
	if err := s.repo.Append(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *pointsService) DebitTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal, kind entity.PointsKind, note string) (*entity.PointsLedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("debit amount must be positive: %w", apperror.ErrInvalidInput)
	}
	if kind == entity.KindViewEarn || kind == entity.KindReferralBonus {
		return nil, fmt.Errorf("%s entries cannot be debits: %w", kind, apperror.ErrInvalidInput)
	}

	entry := &entity.PointsLedgerEntry{
		UserID:    userID,
		Amount:    amount.Neg(),
		Kind:      kind,
		Note:      note,
		CreatedAt: s.now(),
	}
	if err := s.repo.Append(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *pointsService) Credit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, kind entity.PointsKind, sessionID *uuid.UUID, note string) (*entity.PointsLedgerEntry, error) {
	var entry *entity.PointsLedgerEntry
	err := database.WithTx(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		entry, err = s.CreditTx(ctx, tx, userID, amount, kind, sessionID, note)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Notify(ctx, entry)
	return entry, nil
}

func (s *pointsService) Debit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, kind entity.PointsKind, note string) (*entity.PointsLedgerEntry, error) {
	var entry *entity.PointsLedgerEntry
	err := database.WithTx(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		entry, err = s.DebitTx(ctx, tx, userID, amount, kind, note)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Notify(ctx, entry)
	return entry, nil
}

// Notify publishes the balance event for a committed entry.
func (s *pointsService) Notify(ctx context.Context, entry *entity.PointsLedgerEntry) {
	eventType := notifService.EventPointsCredited
	if entry.Amount.IsNegative() {
		eventType = notifService.EventPointsDebited
	}
	s.events.Publish(ctx, notifService.BalanceEvent{
		UserID: entry.UserID,
		Type:   eventType,
		Amount: entry.Amount,
		Kind:   string(entry.Kind),
		At:     entry.CreatedAt,
	})
}

func (s *pointsService) Balance(ctx context.Context, userID uuid.UUID) (*pointsDto.BalanceResponse, error) {
	balance, err := s.repo.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &pointsDto.BalanceResponse{UserID: userID, Points: balance}, nil
}

func (s *pointsService) DailyEarned(ctx context.Context, userID uuid.UUID, date time.Time) (decimal.Decimal, error) {
	return s.daily.DailyEarned(ctx, s.db, userID, date)
}

func (s *pointsService) History(ctx context.Context, userID uuid.UUID, query pointsDto.HistoryQuery) (*pointsDto.PaginatedHistoryResponse, error) {
	query.Normalize()

	entries, total, err := s.repo.History(ctx, userID, query.Kind, query.Limit, query.Offset())
	if err != nil {
		return nil, err
	}

	data := make([]pointsDto.LedgerEntryResponse, 0, len(entries))
	for i := range entries {
		data = append(data, pointsDto.ToLedgerEntryResponse(&entries[i]))
	}
	return &pointsDto.PaginatedHistoryResponse{
		Data: data,
		Meta: dto.NewPaginationMeta(query.Page, query.Limit, total),
	}, nil
}

// ApplyReferral grants the bonus pair for newUserID exactly once. The
// ReferralBonus row is written first; its unique key turns a retry or a
// concurrent duplicate into ErrConflict before any points move.
func (s *pointsService) ApplyReferral(ctx context.Context, newUserID uuid.UUID, code string) (*pointsDto.ReferralResponse, error) {
	referrerID, err := s.directory.ResolveReferralCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if referrerID == newUserID {
		return nil, apperror.New(http.StatusBadRequest, "cannot use your own referral code", apperror.ErrInvalidInput)
	}

	bonus := s.opts.ReferralBonus
	var entries []*entity.PointsLedgerEntry
	err = database.WithTx(ctx, s.db, func(tx *gorm.DB) error {
		if err := s.repo.CreateReferralBonus(ctx, tx, &entity.ReferralBonus{
			ReferredUserID: newUserID,
			ReferrerID:     referrerID,
			Amount:         bonus,
			CreatedAt:      s.now(),
		}); err != nil {
			return err
		}
		if err := s.repo.SetReferrer(ctx, tx, newUserID, referrerID); err != nil {
			return err
		}

		for _, grant := range []struct {
			user uuid.UUID
			note string
		}{
			{newUserID, "referred by " + referrerID.String()},
			{referrerID, "referral of " + newUserID.String()},
		} {
			entry, err := s.CreditTx(ctx, tx, grant.user, bonus, entity.KindReferralBonus, nil, grant.note)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		s.Notify(ctx, entry)
	}
	s.log.Info("referral bonus granted",
		zap.String("user_id", newUserID.String()),
		zap.String("referrer_id", referrerID.String()),
		zap.String("bonus", bonus.String()))

	return &pointsDto.ReferralResponse{ReferrerID: referrerID, Bonus: bonus}, nil
}

// Reconcile compares the cached balance with the ledger sum. With fix set,
// the cached balance is rewritten from the ledger.
func (s *pointsService) Reconcile(ctx context.Context, userID uuid.UUID, fix bool) (*pointsDto.ReconcileResponse, error) {
	var report pointsDto.ReconcileResponse
	err := database.WithTx(ctx, s.db, func(tx *gorm.DB) error {
		user, err := s.repo.LockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		sum, err := s.repo.SumEntries(ctx, tx, userID)
		if err != nil {
			return err
		}

		report = pointsDto.ReconcileResponse{
			UserID:    userID,
			Projected: user.PointsBalance,
			LedgerSum: sum,
			Drift:     user.PointsBalance.Sub(sum),
		}
		if report.Drift.IsZero() || !fix {
			return nil
		}
		if err := s.repo.SetBalance(ctx, tx, userID, sum); err != nil {
			return err
		}
		report.Fixed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !report.Drift.IsZero() {
		s.log.Warn("points balance drift",
			zap.String("user_id", userID.String()),
			zap.String("projected", report.Projected.String()),
			zap.String("ledger_sum", report.LedgerSum.String()),
			zap.Bool("fixed", report.Fixed))
	}
	return &report, nil
}

func (s *pointsService) AdminAdjust(ctx context.Context, adminID uuid.UUID, req pointsDto.AdjustRequest) (*pointsDto.LedgerEntryResponse, error) {
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, apperror.ErrInvalidInput
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil || amount.IsZero() {
		return nil, apperror.New(http.StatusBadRequest, "amount must be a non-zero decimal", apperror.ErrInvalidInput)
	}

	note := strings.TrimSpace(s.sanitizer.Sanitize(req.Note))
	note = fmt.Sprintf("%s (by %s)", note, adminID)

	var entry *entity.PointsLedgerEntry
	if amount.IsPositive() {
		entry, err = s.Credit(ctx, userID, amount, entity.KindAdminAdjustment, nil, note)
	} else {
		entry, err = s.Debit(ctx, userID, amount.Neg(), entity.KindAdminAdjustment, note)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("points adjusted",
		zap.String("admin_id", adminID.String()),
		zap.String("user_id", userID.String()),
		zap.String("amount", amount.String()))

	resp := pointsDto.ToLedgerEntryResponse(entry)
	return &resp, nil
}
