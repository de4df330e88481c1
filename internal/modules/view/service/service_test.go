package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"anoa.com/trafficexchange/internal/entity"
	dirRepo "anoa.com/trafficexchange/internal/modules/directory/repository"
	fraudRepo "anoa.com/trafficexchange/internal/modules/fraud/repository"
	fraud "anoa.com/trafficexchange/internal/modules/fraud/service"
	notifService "anoa.com/trafficexchange/internal/modules/notification/service"
	pointsRepo "anoa.com/trafficexchange/internal/modules/points/repository"
	points "anoa.com/trafficexchange/internal/modules/points/service"
	rlRepo "anoa.com/trafficexchange/internal/modules/ratelimit/repository"
	rlService "anoa.com/trafficexchange/internal/modules/ratelimit/service"
	viewDto "anoa.com/trafficexchange/internal/modules/view/dto"
	viewRepo "anoa.com/trafficexchange/internal/modules/view/repository"
	"anoa.com/trafficexchange/internal/testutil"
	"anoa.com/trafficexchange/pkg/apperror"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var base = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixtureOptions struct {
	singlePending bool
	pendingMaxAge time.Duration
	// wrapPoints, when set, decorates the points service the view service
	// credits through.
	wrapPoints func(points.PointsService) points.PointsService
}

type fixture struct {
	db    *gorm.DB
	clock *testutil.Clock
	svc   ViewService
	site  *entity.Site
}

func newFixture(t *testing.T, fo fixtureOptions) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	clock := testutil.NewClock(base)
	log := zap.NewNop()

	directory := dirRepo.NewDirectoryRepository(db)
	sessions := viewRepo.NewViewRepository(db)
	limiter := rlService.NewLimiter(rlRepo.NewRateLimitRepository(), rlService.Limits{
		IPCooldown:    10 * time.Minute,
		DailyPointCap: decimal.NewFromInt(100000),
		DayBoundary:   time.UTC,
	})
	pointsService := points.NewPointsService(
		db,
		pointsRepo.NewPointsRepository(db),
		directory,
		limiter,
		notifService.NewEventPublisher(nil, log),
		log,
		points.Options{ReferralBonus: decimal.NewFromInt(50), Now: clock.Now},
	)
	pipeline := fraud.NewViewPipeline(fraud.PipelineConfig{
		Detector:      fraud.NewHeaderProxyDetector(),
		Flags:         fraudRepo.NewFraudRepository(db),
		Limiter:       limiter,
		Sessions:      sessions,
		MinDwell:      20 * time.Second,
		PendingMaxAge: fo.pendingMaxAge,
		Log:           log,
	})
	var credits points.PointsService = pointsService
	if fo.wrapPoints != nil {
		credits = fo.wrapPoints(pointsService)
	}
	svc := NewViewService(db, sessions, directory, pipeline, credits, log, Options{
		DefaultPointsPerView: decimal.NewFromInt(1),
		SinglePending:        fo.singlePending,
		Now:                  clock.Now,
	})

	owner := testutil.CreateUser(t, db, "owner")
	site := testutil.CreateSite(t, db, owner, "2.5")

	f := &fixture{db: db, clock: clock, svc: svc, site: site}
	t.Cleanup(func() { f.assertLedgerMatchesSessions(t) })
	return f
}

func meta(ip string) RequestMeta {
	return RequestMeta{IP: ip, UserAgent: "Mozilla/5.0", Headers: http.Header{}}
}

func (f *fixture) start(t *testing.T, viewer *entity.User, ip string) string {
	t.Helper()
	resp, err := f.svc.Start(context.Background(), viewer.ID, viewDto.StartRequest{SiteID: f.site.ID.String()}, meta(ip))
	require.NoError(t, err)
	return resp.SessionToken
}

func (f *fixture) complete(viewer *entity.User, token, ip string) (*viewDto.CompleteResponse, error) {
	return f.svc.Complete(context.Background(), viewer.ID, viewDto.CompleteRequest{SessionToken: token}, meta(ip))
}

func (f *fixture) session(t *testing.T, token string) *entity.ViewSession {
	t.Helper()
	var s entity.ViewSession
	require.NoError(t, f.db.Where("token = ?", token).First(&s).Error)
	return &s
}

func (f *fixture) viewEntries(t *testing.T, userID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&entity.PointsLedgerEntry{}).Where("user_id = ? AND kind = ?", userID, entity.KindViewEarn).Count(&n).Error)
	return n
}

// assertLedgerMatchesSessions checks that valid sessions and view credits
// pair up one to one with equal amounts.
func (f *fixture) assertLedgerMatchesSessions(t *testing.T) {
	var sessions []entity.ViewSession
	require.NoError(t, f.db.Where("status = ?", entity.ViewValid).Find(&sessions).Error)

	var entries []entity.PointsLedgerEntry
	require.NoError(t, f.db.Where("kind = ?", entity.KindViewEarn).Find(&entries).Error)

	bySession := make(map[uuid.UUID]entity.PointsLedgerEntry, len(entries))
	for _, e := range entries {
		if e.SessionID != nil {
			bySession[*e.SessionID] = e
		}
	}
	seeded := 0
	for _, e := range entries {
		if e.Note == "seed" {
			seeded++
		}
	}

	assert.Equal(t, len(sessions), len(entries)-seeded)
	for _, s := range sessions {
		e, ok := bySession[s.ID]
		if assert.True(t, ok, "valid session %s has no credit", s.ID) {
			assert.True(t, s.PointsAwarded.Valid)
			assert.True(t, e.Amount.Equal(s.PointsAwarded.Decimal))
			assert.Equal(t, s.ViewerID, e.UserID)
		}
	}
}

func rejectionOf(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, apperror.ErrValidationRejected, "got %v", err)
	return apperror.RejectionReason(err)
}

func TestCompleteCreditsView(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	viewer := testutil.CreateUser(t, f.db, "viewer")

	token := f.start(t, viewer, "10.0.0.1")
	f.clock.Advance(30 * time.Second)

	resp, err := f.complete(viewer, token, "10.0.0.1")
	require.NoError(t, err)
	testutil.AssertDecimal(t, "2.5", resp.PointsAwarded)

	s := f.session(t, token)
	assert.Equal(t, entity.ViewValid, s.Status)
	require.NotNil(t, s.CompletedAt)
	assert.True(t, s.CompletedAt.Equal(base.Add(30*time.Second)))
	testutil.AssertDecimal(t, "2.5", testutil.Reload(t, f.db, viewer.ID).PointsBalance)
	assert.Equal(t, int64(1), f.viewEntries(t, viewer.ID))
}

// failingCredits fails the next n view credits with a driver error.
type failingCredits struct {
	points.PointsService
	remaining atomic.Int32
}

func (f *failingCredits) CreditTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal, kind entity.PointsKind, sessionID *uuid.UUID, note string) (*entity.PointsLedgerEntry, error) {
	if f.remaining.Add(-1) >= 0 {
		return nil, errors.New("connection reset")
	}
	return f.PointsService.CreditTx(ctx, tx, userID, amount, kind, sessionID, note)
}

func TestCompleteCreditFailureLeavesNoTrace(t *testing.T) {
	credits := &failingCredits{}
	credits.remaining.Store(1)
	f := newFixture(t, fixtureOptions{wrapPoints: func(p points.PointsService) points.PointsService {
		credits.PointsService = p
		return credits
	}})
	viewer := testutil.CreateUser(t, f.db, "viewer")
	token := f.start(t, viewer, "10.0.0.1")
	f.clock.Advance(time.Minute)

	_, err := f.complete(viewer, token, "10.0.0.1")
	require.ErrorIs(t, err, apperror.ErrStorageFailure)

	s := f.session(t, token)
	assert.Equal(t, entity.ViewPending, s.Status, "marking the session valid is rolled back")
	assert.Nil(t, s.CompletedAt)
	assert.False(t, s.PointsAwarded.Valid)
	assert.Equal(t, int64(0), f.viewEntries(t, viewer.ID))
	testutil.AssertDecimal(t, "0", testutil.Reload(t, f.db, viewer.ID).PointsBalance)

	resp, err := f.complete(viewer, token, "10.0.0.1")
	require.NoError(t, err, "the same token completes once storage recovers")
	testutil.AssertDecimal(t, "2.5", resp.PointsAwarded)
	assert.Equal(t, entity.ViewValid, f.session(t, token).Status)
	assert.Equal(t, int64(1), f.viewEntries(t, viewer.ID))
	testutil.AssertDecimal(t, "2.5", testutil.Reload(t, f.db, viewer.ID).PointsBalance)
}

func TestDefaultPayoutRate(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	viewer := testutil.CreateUser(t, f.db, "viewer")
	require.NoError(t, f.db.Model(&entity.Site{}).Where("id = ?", f.site.ID).Update("payout_rate", nil).Error)

	token := f.start(t, viewer, "10.0.0.1")
	f.clock.Advance(time.Minute)

	resp, err := f.complete(viewer, token, "10.0.0.1")
	require.NoError(t, err)
	testutil.AssertDecimal(t, "1", resp.PointsAwarded)
}

func TestDwellTime(t *testing.T) {
	t.Run("19.9 seconds is rejected for good", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		viewer := testutil.CreateUser(t, f.db, "viewer")
		token := f.start(t, viewer, "10.0.0.1")

		f.clock.Advance(19900 * time.Millisecond)
		_, err := f.complete(viewer, token, "10.0.0.1")
		assert.Equal(t, apperror.ReasonDurationTooShort, rejectionOf(t, err))

		s := f.session(t, token)
		assert.Equal(t, entity.ViewRejected, s.Status)
		require.NotNil(t, s.FraudReason)
		assert.Equal(t, apperror.ReasonDurationTooShort, *s.FraudReason)

		f.clock.Advance(time.Minute)
		_, err = f.complete(viewer, token, "10.0.0.1")
		assert.Equal(t, apperror.ReasonSessionAlreadyCompleted, rejectionOf(t, err))
		assert.Equal(t, int64(0), f.viewEntries(t, viewer.ID))
	})

	t.Run("20.0 seconds is credited", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		viewer := testutil.CreateUser(t, f.db, "viewer")
		token := f.start(t, viewer, "10.0.0.1")

		f.clock.Advance(20 * time.Second)
		_, err := f.complete(viewer, token, "10.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, entity.ViewValid, f.session(t, token).Status)
	})
}

func TestReplay(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	viewer := testutil.CreateUser(t, f.db, "viewer")
	token := f.start(t, viewer, "10.0.0.1")
	f.clock.Advance(time.Minute)

	_, err := f.complete(viewer, token, "10.0.0.1")
	require.NoError(t, err)

	_, err = f.complete(viewer, token, "10.0.0.1")
	assert.Equal(t, apperror.ReasonSessionAlreadyCompleted, rejectionOf(t, err))
	assert.ErrorIs(t, err, apperror.ErrConflict)

	// A replay from a fresh ip a day later still finds the session spent.
	f.clock.Advance(24 * time.Hour)
	_, err = f.complete(viewer, token, "10.9.9.9")
	assert.Equal(t, apperror.ReasonSessionAlreadyCompleted, rejectionOf(t, err))
	assert.Equal(t, int64(1), f.viewEntries(t, viewer.ID))
}

func TestConcurrentCompletionOfOneToken(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	viewer := testutil.CreateUser(t, f.db, "viewer")
	token := f.start(t, viewer, "10.0.0.1")
	f.clock.Advance(time.Minute)

	const racers = 10
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.complete(viewer, token, "10.0.0.1")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, apperror.ReasonSessionAlreadyCompleted, apperror.RejectionReason(err), "unexpected error %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(1), f.viewEntries(t, viewer.ID))
	testutil.AssertDecimal(t, "2.5", testutil.Reload(t, f.db, viewer.ID).PointsBalance)
}

func TestIPCooldown(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	first := testutil.CreateUser(t, f.db, "first")
	second := testutil.CreateUser(t, f.db, "second")

	t1 := f.start(t, first, "10.0.0.1")
	t2 := f.start(t, second, "10.0.0.1")
	f.clock.Advance(time.Minute)

	_, err := f.complete(first, t1, "10.0.0.1")
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	_, err = f.complete(second, t2, "10.0.0.1")
	assert.Equal(t, apperror.ReasonIPCooldownActive, rejectionOf(t, err))
	assert.Equal(t, entity.ViewPending, f.session(t, t2).Status, "cooldown leaves the session completable")

	_, err = f.complete(second, t2, "10.0.0.2")
	require.NoError(t, err, "other addresses are not affected")

	t3 := f.start(t, second, "10.0.0.1")
	f.clock.Advance(5 * time.Minute)
	_, err = f.complete(second, t3, "10.0.0.1")
	require.NoError(t, err, "window ends ten minutes after the last credited view")
}

func TestConcurrentIPCooldown(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	const racers = 8
	viewers := make([]*entity.User, racers)
	tokens := make([]string, racers)
	for i := range viewers {
		viewers[i] = testutil.CreateUser(t, f.db, fmt.Sprintf("viewer%d", i))
		tokens[i] = f.start(t, viewers[i], "10.0.0.1")
	}
	f.clock.Advance(time.Minute)

	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.complete(viewers[i], tokens[i], "10.0.0.1")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, apperror.ReasonIPCooldownActive, apperror.RejectionReason(err), "unexpected error %v", err)
	}
	assert.Equal(t, 1, succeeded)

	var valid int64
	require.NoError(t, f.db.Model(&entity.ViewSession{}).Where("ip_address = ? AND status = ?", "10.0.0.1", entity.ViewValid).Count(&valid).Error)
	assert.Equal(t, int64(1), valid)
}

func TestDailyCapBoundary(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	viewer := testutil.CreateUser(t, f.db, "grinder")
	require.NoError(t, f.db.Model(&entity.Site{}).Where("id = ?", f.site.ID).Update("payout_rate", decimal.NewFromInt(1)).Error)

	sid := uuid.New()
	require.NoError(t, f.db.Create(&entity.PointsLedgerEntry{
		UserID:    viewer.ID,
		Amount:    decimal.RequireFromString("99999.5"),
		Kind:      entity.KindViewEarn,
		SessionID: &sid,
		Note:      "seed",
		CreatedAt: base,
	}).Error)

	t1 := f.start(t, viewer, "10.0.0.1")
	t2 := f.start(t, viewer, "10.0.0.2")
	f.clock.Advance(time.Minute)

	_, err := f.complete(viewer, t1, "10.0.0.1")
	require.NoError(t, err)

	limiter := rlService.NewLimiter(rlRepo.NewRateLimitRepository(), rlService.Limits{DayBoundary: time.UTC})
	total, err := limiter.DailyEarned(context.Background(), f.db, viewer.ID, base)
	require.NoError(t, err)
	testutil.AssertDecimal(t, "100000.5", total)

	_, err = f.complete(viewer, t2, "10.0.0.2")
	assert.Equal(t, apperror.ReasonDailyCapReached, rejectionOf(t, err))
	assert.Equal(t, entity.ViewPending, f.session(t, t2).Status)
	assert.Zero(t, testutil.Reload(t, f.db, viewer.ID).FraudFlagCount, "the cap is not a fraud signal")

	f.clock.Set(base.Add(12 * time.Hour))
	_, err = f.complete(viewer, t2, "10.0.0.2")
	require.NoError(t, err, "the cap resets at the day boundary")
}

func TestSessionOwnership(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	owner := testutil.CreateUser(t, f.db, "alice")
	thief := testutil.CreateUser(t, f.db, "mallory")
	token := f.start(t, owner, "10.0.0.1")
	f.clock.Advance(time.Minute)

	_, err := f.complete(thief, token, "10.0.0.2")
	assert.Equal(t, apperror.ReasonInvalidSession, rejectionOf(t, err))
	assert.Equal(t, entity.ViewPending, f.session(t, token).Status)

	_, err = f.complete(owner, "no-such-token", "10.0.0.1")
	assert.Equal(t, apperror.ReasonInvalidSession, rejectionOf(t, err))

	other := uuid.New().String()
	_, err = f.svc.Complete(context.Background(), owner.ID, viewDto.CompleteRequest{SessionToken: token, SiteID: other}, meta("10.0.0.1"))
	assert.Equal(t, apperror.ReasonInvalidSession, rejectionOf(t, err))

	_, err = f.svc.Complete(context.Background(), owner.ID, viewDto.CompleteRequest{SessionToken: token, SiteID: f.site.ID.String()}, meta("10.0.0.1"))
	require.NoError(t, err)
}

func TestProxyDetection(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	viewer := testutil.CreateUser(t, f.db, "viewer")
	token := f.start(t, viewer, "10.0.0.1")
	f.clock.Advance(time.Minute)

	proxied := meta("10.0.0.1")
	proxied.Headers.Set("X-Forwarded-For", "203.0.113.9")
	_, err := f.svc.Complete(context.Background(), viewer.ID, viewDto.CompleteRequest{SessionToken: token}, proxied)
	assert.Equal(t, apperror.ReasonProxyDetected, rejectionOf(t, err))

	assert.Equal(t, 1, testutil.Reload(t, f.db, viewer.ID).FraudFlagCount)
	var flags []entity.FraudFlag
	require.NoError(t, f.db.Where("user_id = ?", viewer.ID).Find(&flags).Error)
	require.Len(t, flags, 1)
	require.NotNil(t, flags[0].SessionID)
	assert.Equal(t, f.session(t, token).ID, *flags[0].SessionID)
	assert.Equal(t, entity.ViewPending, f.session(t, token).Status)

	_, err = f.complete(viewer, token, "10.0.0.1")
	require.NoError(t, err, "a proxy rejection does not use up the ip slot")
}

func TestStartPolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("many pending sessions by default", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		viewer := testutil.CreateUser(t, f.db, "viewer")
		a := f.start(t, viewer, "10.0.0.1")
		b := f.start(t, viewer, "10.0.0.1")
		assert.NotEqual(t, a, b)
	})

	t.Run("single pending policy", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{singlePending: true})
		viewer := testutil.CreateUser(t, f.db, "viewer")
		token := f.start(t, viewer, "10.0.0.1")

		_, err := f.svc.Start(ctx, viewer.ID, viewDto.StartRequest{SiteID: f.site.ID.String()}, meta("10.0.0.1"))
		assert.ErrorIs(t, err, apperror.ErrConflict)

		f.clock.Advance(time.Minute)
		_, err = f.complete(viewer, token, "10.0.0.1")
		require.NoError(t, err)
		f.start(t, viewer, "10.0.0.1")
	})

	t.Run("pending max age", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{pendingMaxAge: time.Hour})
		viewer := testutil.CreateUser(t, f.db, "viewer")
		token := f.start(t, viewer, "10.0.0.1")

		f.clock.Advance(61 * time.Minute)
		_, err := f.complete(viewer, token, "10.0.0.1")
		assert.Equal(t, apperror.ReasonInvalidSession, rejectionOf(t, err))
	})

	t.Run("inactive and unknown sites", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		viewer := testutil.CreateUser(t, f.db, "viewer")

		_, err := f.svc.Start(ctx, viewer.ID, viewDto.StartRequest{SiteID: uuid.New().String()}, meta("10.0.0.1"))
		assert.ErrorIs(t, err, apperror.ErrNotFound)

		require.NoError(t, f.db.Model(&entity.Site{}).Where("id = ?", f.site.ID).Update("active", false).Error)
		_, err = f.svc.Start(ctx, viewer.ID, viewDto.StartRequest{SiteID: f.site.ID.String()}, meta("10.0.0.1"))
		assert.ErrorIs(t, err, apperror.ErrInvalidInput)
	})
}
