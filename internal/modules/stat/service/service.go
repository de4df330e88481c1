package service

import (
	"context"

	"anoa.com/trafficexchange/internal/entity"
	dirRepo "anoa.com/trafficexchange/internal/modules/directory/repository"
	statDto "anoa.com/trafficexchange/internal/modules/stat/dto"
	statRepo "anoa.com/trafficexchange/internal/modules/stat/repository"
)

type StatService interface {
	GetTotalUsers(ctx context.Context) (int64, error)
	GetOverview(ctx context.Context) (*statDto.OverviewResponse, error)
}

type statService struct {
	repo      statRepo.StatRepository
	directory dirRepo.DirectoryRepository
}

func NewStatService(repo statRepo.StatRepository, directory dirRepo.DirectoryRepository) StatService {
	return &statService{
		repo:      repo,
		directory: directory,
	}
}

func (s *statService) GetTotalUsers(ctx context.Context) (int64, error) {
	return s.directory.Count(ctx)
}

func (s *statService) GetOverview(ctx context.Context) (*statDto.OverviewResponse, error) {
	users, err := s.directory.Count(ctx)
	if err != nil {
		return nil, err
	}
	sessions, err := s.repo.SessionsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	flags, err := s.repo.OpenFlags(ctx)
	if err != nil {
		return nil, err
	}
	totals, err := s.repo.Totals(ctx)
	if err != nil {
		return nil, err
	}

	return &statDto.OverviewResponse{
		TotalUsers: users,
		Sessions: statDto.SessionCounts{
			Pending:  sessions[entity.ViewPending],
			Valid:    sessions[entity.ViewValid],
			Rejected: sessions[entity.ViewRejected],
		},
		OpenFraudFlags:    flags,
		PointsOutstanding: totals.Points,
		EarningsLocked:    totals.Locked,
		EarningsAvailable: totals.Available,
	}, nil
}
