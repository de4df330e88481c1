package service

import (
	"context"
	"net/http"
	"strings"
	"time"

	fraudDto "anoa.com/trafficexchange/internal/modules/fraud/dto"
	fraudRepo "anoa.com/trafficexchange/internal/modules/fraud/repository"
	"anoa.com/trafficexchange/pkg/apperror"
	"anoa.com/trafficexchange/pkg/dto"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

// FraudService is the review side of fraud flags. Flags are raised by the
// completion pipeline; reviewers only list and resolve them.
type FraudService interface {
	ListFlags(ctx context.Context, query fraudDto.FlagQuery) (*fraudDto.PaginatedFlagResponse, error)
	ResolveFlag(ctx context.Context, id, reviewerID uuid.UUID, note string) (*fraudDto.FlagResponse, error)
}

type fraudService struct {
	repo      fraudRepo.FraudRepository
	sanitizer *bluemonday.Policy
	log       *zap.Logger
	now       func() time.Time
}

func NewFraudService(repo fraudRepo.FraudRepository, log *zap.Logger, now func() time.Time) FraudService {
	if now == nil {
		now = time.Now
	}
	return &fraudService{
		repo:      repo,
		sanitizer: bluemonday.StrictPolicy(),
		log:       log,
		now:       now,
	}
}

func (s *fraudService) ListFlags(ctx context.Context, query fraudDto.FlagQuery) (*fraudDto.PaginatedFlagResponse, error) {
	query.Normalize()

	filter := fraudRepo.FlagFilter{Limit: query.Limit, Offset: query.Offset()}
	if query.UserID != "" {
		userID, err := uuid.Parse(query.UserID)
		if err != nil {
			return nil, apperror.ErrInvalidInput
		}
		filter.UserID = &userID
	}
	switch query.Status {
	case "open":
		resolved := false
		filter.Resolved = &resolved
	case "resolved":
		resolved := true
		filter.Resolved = &resolved
	}

	flags, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	data := make([]fraudDto.FlagResponse, 0, len(flags))
	for i := range flags {
		data = append(data, fraudDto.ToFlagResponse(&flags[i]))
	}
	return &fraudDto.PaginatedFlagResponse{
		Data: data,
		Meta: dto.NewPaginationMeta(query.Page, query.Limit, total),
	}, nil
}

func (s *fraudService) ResolveFlag(ctx context.Context, id, reviewerID uuid.UUID, note string) (*fraudDto.FlagResponse, error) {
	note = strings.TrimSpace(s.sanitizer.Sanitize(note))
	if note == "" {
		return nil, apperror.New(http.StatusBadRequest, "resolution note is required", apperror.ErrInvalidInput)
	}

	flag, err := s.repo.Resolve(ctx, id, reviewerID, note, s.now().UTC())
	if err != nil {
		return nil, err
	}

	s.log.Info("fraud flag resolved",
		zap.String("flag_id", id.String()),
		zap.String("reviewer_id", reviewerID.String()))

	resp := fraudDto.ToFlagResponse(flag)
	return &resp, nil
}
