package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"anoa.com/trafficexchange/internal/entity"
	dirRepo "anoa.com/trafficexchange/internal/modules/directory/repository"
	fraud "anoa.com/trafficexchange/internal/modules/fraud/service"
	points "anoa.com/trafficexchange/internal/modules/points/service"
	viewDto "anoa.com/trafficexchange/internal/modules/view/dto"
	viewRepo "anoa.com/trafficexchange/internal/modules/view/repository"
	"anoa.com/trafficexchange/pkg/apperror"
	"anoa.com/trafficexchange/pkg/database"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RequestMeta is what the transport knows about the caller's connection.
type RequestMeta struct {
	IP        string
	UserAgent string
	Headers   http.Header
}

type ViewService interface {
	Start(ctx context.Context, viewerID uuid.UUID, req viewDto.StartRequest, meta RequestMeta) (*viewDto.StartResponse, error)
	// Complete validates and credits a session. A session is credited at
	// most once; a rejection comes back as *apperror.RejectionError.
	Complete(ctx context.Context, viewerID uuid.UUID, req viewDto.CompleteRequest, meta RequestMeta) (*viewDto.CompleteResponse, error)
}

type Options struct {
	DefaultPointsPerView decimal.Decimal
	// SinglePending refuses a start while the viewer has a pending session.
	SinglePending bool
	Now           func() time.Time
}

type viewService struct {
	db        *gorm.DB
	repo      viewRepo.ViewRepository
	directory dirRepo.DirectoryRepository
	pipeline  *fraud.Pipeline
	points    points.PointsService
	log       *zap.Logger
	opts      Options
}

func NewViewService(
	db *gorm.DB,
	repo viewRepo.ViewRepository,
	directory dirRepo.DirectoryRepository,
	pipeline *fraud.Pipeline,
	pointsService points.PointsService,
	log *zap.Logger,
	opts Options,
) ViewService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if !opts.DefaultPointsPerView.IsPositive() {
		opts.DefaultPointsPerView = decimal.NewFromInt(1)
	}
	return &viewService{
		db:        db,
		repo:      repo,
		directory: directory,
		pipeline:  pipeline,
		points:    pointsService,
		log:       log,
		opts:      opts,
	}
}

func (s *viewService) Start(ctx context.Context, viewerID uuid.UUID, req viewDto.StartRequest, meta RequestMeta) (*viewDto.StartResponse, error) {
	siteID, err := uuid.Parse(req.SiteID)
	if err != nil {
		return nil, apperror.ErrInvalidInput
	}
	site, err := s.directory.GetSite(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if !site.Active {
		return nil, apperror.New(http.StatusUnprocessableEntity, "site is not accepting views", apperror.ErrInvalidInput)
	}

	token, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	session := &entity.ViewSession{
		Token:     token.String(),
		ViewerID:  viewerID,
		SiteID:    site.ID,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		Status:    entity.ViewPending,
		StartedAt: s.opts.Now().UTC(),
	}

	err = database.WithTx(ctx, s.db, func(tx *gorm.DB) error {
		if s.opts.SinglePending {
			if err := s.repo.LockViewer(ctx, tx, viewerID); err != nil {
				return err
			}
			pending, err := s.repo.HasPending(ctx, tx, viewerID)
			if err != nil {
				return err
			}
			if pending {
				return fmt.Errorf("another view session is still pending: %w", apperror.ErrConflict)
			}
		}
		return s.repo.Create(ctx, tx, session)
	})
	if err != nil {
		return nil, err
	}

	return &viewDto.StartResponse{
		SessionToken: session.Token,
		SessionID:    session.ID,
		StartedAt:    session.StartedAt,
	}, nil
}

func (s *viewService) Complete(ctx context.Context, viewerID uuid.UUID, req viewDto.CompleteRequest, meta RequestMeta) (*viewDto.CompleteResponse, error) {
	var claimedSite *uuid.UUID
	if req.SiteID != "" {
		id, err := uuid.Parse(req.SiteID)
		if err != nil {
			return nil, apperror.ErrInvalidInput
		}
		claimedSite = &id
	}

	var (
		verdict fraud.Verdict
		entry   *entity.PointsLedgerEntry
	)
	err := database.WithTx(ctx, s.db, func(tx *gorm.DB) error {
		// Lock order: session, then the limiter's user-day and ip keys.
		session, err := s.repo.LockByToken(ctx, tx, req.SessionToken)
		if err != nil && !errors.Is(err, apperror.ErrNotFound) {
			return err
		}

		now := s.opts.Now().UTC()
		verdict, err = s.pipeline.Evaluate(ctx, tx, fraud.Candidate{
			ViewerID:      viewerID,
			Token:         req.SessionToken,
			ClaimedSiteID: claimedSite,
			IP:            meta.IP,
			UserAgent:     meta.UserAgent,
			Headers:       meta.Headers,
			Now:           now,
			Session:       session,
		})
		if err != nil {
			return err
		}
		if !verdict.Passed() {
			if verdict.Commit {
				return nil
			}
			return verdict.Rejection
		}

		site, err := s.repo.GetSite(ctx, tx, session.SiteID)
		if err != nil {
			return err
		}
		award := site.PointsPerView(s.opts.DefaultPointsPerView)

		if err := s.repo.MarkValid(ctx, tx, session.ID, now, award, meta.IP); err != nil {
			return err
		}
		entry, err = s.points.CreditTx(ctx, tx, viewerID, award, entity.KindViewEarn, &session.ID, "")
		return err
	})
	if err != nil {
		if reason := apperror.RejectionReason(err); reason != "" {
			s.log.Info("view rejected", zap.String("viewer_id", viewerID.String()), zap.String("reason", reason))
		}
		return nil, err
	}
	if !verdict.Passed() {
		s.log.Info("view rejected",
			zap.String("viewer_id", viewerID.String()),
			zap.String("check", verdict.Check),
			zap.String("reason", verdict.Rejection.Reason))
		return nil, verdict.Rejection
	}

	s.points.Notify(ctx, entry)
	return &viewDto.CompleteResponse{
		SessionID:     *entry.SessionID,
		PointsAwarded: entry.Amount,
	}, nil
}
