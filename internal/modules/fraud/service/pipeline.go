package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"anoa.com/trafficexchange/internal/entity"
	"anoa.com/trafficexchange/pkg/apperror"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Candidate is one completion attempt as the checks see it. Checks read it
// and never modify it.
type Candidate struct {
	ViewerID      uuid.UUID
	Token         string
	ClaimedSiteID *uuid.UUID
	IP            string
	UserAgent     string
	Headers       http.Header
	Now           time.Time
	// Session is the row the token resolved to, locked by the caller, or nil
	// when the token is unknown. It may belong to another user.
	Session *entity.ViewSession
}

// SessionID is the id the rate limits exclude from their own counts.
func (c Candidate) SessionID() uuid.UUID {
	if session := c.OwnedSession(); session != nil {
		return session.ID
	}
	return uuid.Nil
}

// OwnedSession returns the session only when it belongs to the viewer.
func (c Candidate) OwnedSession() *entity.ViewSession {
	if c.Session == nil || c.Session.ViewerID != c.ViewerID {
		return nil
	}
	return c.Session
}

type Check interface {
	Name() string
	Evaluate(ctx context.Context, tx *gorm.DB, c Candidate) (*apperror.RejectionError, error)
}

// RejectionEffect is implemented by checks whose rejection changes state.
// The effect runs in the same transaction and is committed together with
// the rejection; every other rejection is rolled back.
type RejectionEffect interface {
	OnReject(ctx context.Context, tx *gorm.DB, c Candidate, rejection *apperror.RejectionError) error
}

type Verdict struct {
	Rejection *apperror.RejectionError
	Check     string
	// Commit is set when the rejecting check wrote side effects.
	Commit bool
}

func (v Verdict) Passed() bool {
	return v.Rejection == nil
}

// Pipeline runs checks in order and stops at the first rejection.
type Pipeline struct {
	checks []Check
}

func NewPipeline(checks ...Check) *Pipeline {
	return &Pipeline{checks: checks}
}

func (p *Pipeline) Names() []string {
	names := make([]string, 0, len(p.checks))
	for _, check := range p.checks {
		names = append(names, check.Name())
	}
	return names
}

func (p *Pipeline) Evaluate(ctx context.Context, tx *gorm.DB, c Candidate) (Verdict, error) {
	for _, check := range p.checks {
		rejection, err := check.Evaluate(ctx, tx, c)
		if err != nil {
			return Verdict{}, fmt.Errorf("%s check: %w", check.Name(), err)
		}
		if rejection == nil {
			continue
		}

		verdict := Verdict{Rejection: rejection, Check: check.Name()}
		if effect, ok := check.(RejectionEffect); ok {
			if err := effect.OnReject(ctx, tx, c, rejection); err != nil {
				return Verdict{}, fmt.Errorf("%s rejection effect: %w", check.Name(), err)
			}
			verdict.Commit = true
		}
		return verdict, nil
	}
	return Verdict{}, nil
}
