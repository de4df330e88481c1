package service

import (
	"context"
	"time"

	"anoa.com/trafficexchange/internal/entity"
	fraudRepo "anoa.com/trafficexchange/internal/modules/fraud/repository"
	rlService "anoa.com/trafficexchange/internal/modules/ratelimit/service"
	viewRepo "anoa.com/trafficexchange/internal/modules/view/repository"
	"anoa.com/trafficexchange/pkg/apperror"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProxyCheck rejects relayed traffic and records a fraud flag against the
// viewer. The session is left pending.
type ProxyCheck struct {
	Detector ProxyDetector
	Flags    fraudRepo.FraudRepository
	Log      *zap.Logger
}

func (p *ProxyCheck) Name() string { return "proxy" }

func (p *ProxyCheck) Evaluate(ctx context.Context, tx *gorm.DB, c Candidate) (*apperror.RejectionError, error) {
	signal, detected := p.Detector.Detect(c.Headers, c.UserAgent)
	if !detected {
		return nil, nil
	}
	p.Log.Info("proxy traffic on view completion",
		zap.String("viewer_id", c.ViewerID.String()),
		zap.String("ip", c.IP),
		zap.String("signal", signal))
	return apperror.Reject(apperror.ReasonProxyDetected), nil
}

func (p *ProxyCheck) OnReject(ctx context.Context, tx *gorm.DB, c Candidate, rejection *apperror.RejectionError) error {
	flag := &entity.FraudFlag{
		UserID:    c.ViewerID,
		Reason:    rejection.Reason,
		Severity:  entity.SeverityMedium,
		CreatedAt: c.Now,
	}
	if session := c.OwnedSession(); session != nil {
		flag.SessionID = &session.ID
	}
	return p.Flags.RecordFlag(ctx, tx, flag)
}

type DailyCapCheck struct {
	Limiter rlService.Limiter
}

func (d *DailyCapCheck) Name() string { return "daily_cap" }

func (d *DailyCapCheck) Evaluate(ctx context.Context, tx *gorm.DB, c Candidate) (*apperror.RejectionError, error) {
	decision, err := d.Limiter.AdmitUserDaily(ctx, tx, c.ViewerID, c.SessionID(), c.Now)
	if err != nil {
		return nil, err
	}
	if decision.Allowed {
		return nil, nil
	}
	return apperror.Reject(apperror.ReasonDailyCapReached), nil
}

type IPCooldownCheck struct {
	Limiter rlService.Limiter
}

func (i *IPCooldownCheck) Name() string { return "ip_cooldown" }

func (i *IPCooldownCheck) Evaluate(ctx context.Context, tx *gorm.DB, c Candidate) (*apperror.RejectionError, error) {
	decision, err := i.Limiter.AdmitIP(ctx, tx, c.IP, c.SessionID(), c.Now)
	if err != nil {
		return nil, err
	}
	if decision.Allowed {
		return nil, nil
	}
	return apperror.Reject(apperror.ReasonIPCooldownActive), nil
}

// SessionCheck requires the token to name a session of the caller for the
// claimed site. Terminal sessions pass here and are refused by ReplayCheck.
type SessionCheck struct {
	// PendingMaxAge, when positive, expires pending sessions older than it.
	PendingMaxAge time.Duration
}

func (s *SessionCheck) Name() string { return "session" }

func (s *SessionCheck) Evaluate(ctx context.Context, tx *gorm.DB, c Candidate) (*apperror.RejectionError, error) {
	session := c.OwnedSession()
	if session == nil {
		return apperror.Reject(apperror.ReasonInvalidSession), nil
	}
	if c.ClaimedSiteID != nil && *c.ClaimedSiteID != session.SiteID {
		return apperror.Reject(apperror.ReasonInvalidSession), nil
	}
	if s.PendingMaxAge > 0 && session.Status == entity.ViewPending && c.Now.Sub(session.StartedAt) > s.PendingMaxAge {
		return apperror.Reject(apperror.ReasonInvalidSession), nil
	}
	return nil, nil
}

// DwellCheck enforces the minimum viewing time on pending sessions. A
// session completed too early is closed as rejected and cannot be retried.
type DwellCheck struct {
	MinDwell time.Duration
	Sessions viewRepo.ViewRepository
}

func (d *DwellCheck) Name() string { return "dwell" }

func (d *DwellCheck) Evaluate(ctx context.Context, tx *gorm.DB, c Candidate) (*apperror.RejectionError, error) {
	session := c.OwnedSession()
	if session == nil || session.Status != entity.ViewPending {
		return nil, nil
	}
	if c.Now.Sub(session.StartedAt) >= d.MinDwell {
		return nil, nil
	}
	return apperror.Reject(apperror.ReasonDurationTooShort), nil
}

func (d *DwellCheck) OnReject(ctx context.Context, tx *gorm.DB, c Candidate, rejection *apperror.RejectionError) error {
	return d.Sessions.MarkRejected(ctx, tx, c.Session.ID, c.Now, rejection.Reason)
}

type ReplayCheck struct{}

func (ReplayCheck) Name() string { return "replay" }

func (ReplayCheck) Evaluate(ctx context.Context, tx *gorm.DB, c Candidate) (*apperror.RejectionError, error) {
	if session := c.OwnedSession(); session != nil && session.IsTerminal() {
		return apperror.Reject(apperror.ReasonSessionAlreadyCompleted), nil
	}
	return nil, nil
}

type PipelineConfig struct {
	Detector      ProxyDetector
	Flags         fraudRepo.FraudRepository
	Limiter       rlService.Limiter
	Sessions      viewRepo.ViewRepository
	MinDwell      time.Duration
	PendingMaxAge time.Duration
	Log           *zap.Logger
}

// NewViewPipeline builds the fixed completion pipeline: proxy, daily cap,
// ip cooldown, session ownership, dwell time, replay.
func NewViewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return NewPipeline(
		&ProxyCheck{Detector: cfg.Detector, Flags: cfg.Flags, Log: cfg.Log},
		&DailyCapCheck{Limiter: cfg.Limiter},
		&IPCooldownCheck{Limiter: cfg.Limiter},
		&SessionCheck{PendingMaxAge: cfg.PendingMaxAge},
		&DwellCheck{MinDwell: cfg.MinDwell, Sessions: cfg.Sessions},
		ReplayCheck{},
	)
}
