package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"anoa.com/trafficexchange/internal/config"
	"anoa.com/trafficexchange/internal/middleware"
	"anoa.com/trafficexchange/internal/scheduler"

	dirRepo "anoa.com/trafficexchange/internal/modules/directory/repository"

	earningsHttp "anoa.com/trafficexchange/internal/modules/earnings/delivery/http"
	earningsRepo "anoa.com/trafficexchange/internal/modules/earnings/repository"
	earningsService "anoa.com/trafficexchange/internal/modules/earnings/service"

	fraudHttp "anoa.com/trafficexchange/internal/modules/fraud/delivery/http"
	fraudRepo "anoa.com/trafficexchange/internal/modules/fraud/repository"
	fraudService "anoa.com/trafficexchange/internal/modules/fraud/service"

	leaderboardHttp "anoa.com/trafficexchange/internal/modules/leaderboard/delivery/http"
	leaderboardRepo "anoa.com/trafficexchange/internal/modules/leaderboard/repository"
	leaderboardService "anoa.com/trafficexchange/internal/modules/leaderboard/service"

	notiHttp "anoa.com/trafficexchange/internal/modules/notification/delivery/http"
	notifService "anoa.com/trafficexchange/internal/modules/notification/service"

	pointsHttp "anoa.com/trafficexchange/internal/modules/points/delivery/http"
	pointsRepo "anoa.com/trafficexchange/internal/modules/points/repository"
	pointsService "anoa.com/trafficexchange/internal/modules/points/service"

	rlRepo "anoa.com/trafficexchange/internal/modules/ratelimit/repository"
	rlService "anoa.com/trafficexchange/internal/modules/ratelimit/service"

	statHttp "anoa.com/trafficexchange/internal/modules/stat/delivery/http"
	statRepo "anoa.com/trafficexchange/internal/modules/stat/repository"
	statService "anoa.com/trafficexchange/internal/modules/stat/service"

	viewHttp "anoa.com/trafficexchange/internal/modules/view/delivery/http"
	viewRepo "anoa.com/trafficexchange/internal/modules/view/repository"
	viewService "anoa.com/trafficexchange/internal/modules/view/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Server struct {
	engine      *gin.Engine
	db          *gorm.DB
	redisClient *redis.Client
	scheduler   *scheduler.Scheduler
	http        *http.Server
	log         *zap.Logger
}

func NewServer(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, log *zap.Logger) (*Server, error) {
	directory := dirRepo.NewDirectoryRepository(db)
	events := notifService.NewEventPublisher(redisClient, log)

	limiter := rlService.NewLimiter(rlRepo.NewRateLimitRepository(), rlService.Limits{
		IPCooldown:    cfg.View.IPCooldown,
		DailyPointCap: cfg.View.DailyPointCap,
		DayBoundary:   cfg.View.DayBoundary,
	})

	pointsSvc := pointsService.NewPointsService(
		db,
		pointsRepo.NewPointsRepository(db),
		directory,
		limiter,
		events,
		log.Named("points"),
		pointsService.Options{ReferralBonus: cfg.Points.ReferralBonus},
	)
	pointsHandler := pointsHttp.NewPointsHandler(pointsSvc, nil)

	// Fraud Module
	fraudRepository := fraudRepo.NewFraudRepository(db)
	fraudSvc := fraudService.NewFraudService(fraudRepository, log.Named("fraud"), nil)
	fraudHandler := fraudHttp.NewFraudHandler(fraudSvc)

	// View Module
	viewRepository := viewRepo.NewViewRepository(db)
	pipeline := fraudService.NewViewPipeline(fraudService.PipelineConfig{
		Detector:      fraudService.NewHeaderProxyDetector(),
		Flags:         fraudRepository,
		Limiter:       limiter,
		Sessions:      viewRepository,
		MinDwell:      cfg.View.MinDwell,
		PendingMaxAge: cfg.View.PendingMaxAge,
		Log:           log.Named("fraud"),
	})
	viewSvc := viewService.NewViewService(db, viewRepository, directory, pipeline, pointsSvc, log.Named("view"), viewService.Options{
		DefaultPointsPerView: cfg.View.PointsPerView,
		SinglePending:        cfg.View.SinglePending,
	})
	viewHandler := viewHttp.NewViewHandler(viewSvc)

	// Earnings Module
	earningsSvc := earningsService.NewEarningsService(db, earningsRepo.NewEarningsRepository(db), pointsSvc, events, log.Named("earnings"), earningsService.Options{
		HoldPeriod:     cfg.Earnings.HoldPeriod,
		ConversionRate: cfg.Earnings.ConversionRate,
		BatchSize:      cfg.Earnings.UnlockBatch,
		ClaimTTL:       cfg.Earnings.ClaimTTL,
	})
	earningsHandler := earningsHttp.NewEarningsHandler(earningsSvc)

	leaderboardSvc := leaderboardService.NewLeaderboardService(leaderboardRepo.NewLeaderboardRepository(db), nil)
	leaderboardHandler := leaderboardHttp.NewLeaderboardHandler(leaderboardSvc)

	statSvc := statService.NewStatService(statRepo.NewStatRepository(db), directory)
	statHandler := statHttp.NewStatHandler(statSvc)

	eventsHandler := notiHttp.NewEventsHandler(redisClient, log.Named("events"))

	sched := scheduler.NewScheduler(scheduler.NewRedisLocker(redisClient), log.Named("scheduler"), 0)
	if err := sched.Register(scheduler.NewUnlockJob(earningsSvc, cfg.Earnings.UnlockSchedule, log.Named("earnings"))); err != nil {
		return nil, err
	}

	router := gin.New()
	// Only the socket peer counts as the client address; forwarding
	// headers are signals for the proxy check, never the IP.
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	setupCORS(router, cfg.AllowedOrigins)

	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/health"},
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authMiddleware := middleware.NewAuthMiddleware(directory, cfg.JWTSecret)

	api := router.Group("/api")

	protected := api.Group("")
	protected.Use(authMiddleware.RequireAuth())
	{
		// Admin routes
		adminGroup := protected.Group("/admin")
		adminGroup.Use(authMiddleware.RequireAdmin())
		{
			adminGroup.POST("/points/adjust", pointsHandler.AdminAdjust)
			adminGroup.POST("/points/reconcile", pointsHandler.AdminReconcile)
			adminGroup.GET("/fraud-flags", fraudHandler.ListFlags)
			adminGroup.PUT("/fraud-flags/:id/resolve", fraudHandler.ResolveFlag)
			adminGroup.POST("/earnings/unlock", earningsHandler.Sweep)
			adminGroup.GET("/stats", statHandler.GetOverview)
		}

		// View routes
		protected.POST("/views/start", viewHandler.Start)
		protected.POST("/views/complete", viewHandler.Complete)

		// Points routes
		protected.GET("/points/daily", pointsHandler.GetDaily)
		protected.GET("/points/balance", pointsHandler.GetBalance)
		protected.GET("/points/history", pointsHandler.GetHistory)
		protected.POST("/referrals/apply", pointsHandler.ApplyReferral)

		// Earnings routes
		protected.GET("/earnings", earningsHandler.GetSummary)
		protected.POST("/earnings/convert", earningsHandler.Convert)

		protected.GET("/leaderboard", leaderboardHandler.GetLeaderboard)
		protected.GET("/users/count", statHandler.GetTotalUsers)
		protected.GET("/events/ws", eventsHandler.HandleWebSocket)
	}

	// Withdrawal subsystem
	internal := router.Group("/internal")
	internal.Use(middleware.RequireInternalToken(cfg.InternalAPIToken))
	{
		internal.GET("/earnings/:user_id/available", earningsHandler.GetAvailable)
		internal.POST("/earnings/:user_id/debit", earningsHandler.Debit)
	}

	return &Server{
		engine:      router,
		db:          db,
		redisClient: redisClient,
		scheduler:   sched,
		http: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}, nil
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run starts the background jobs and serves until Shutdown is called.
func (s *Server) Run() error {
	s.scheduler.Start()

	s.log.Info("server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.scheduler.Stop(ctx)
	return s.http.Shutdown(ctx)
}

func setupCORS(router *gin.Engine, allowedOrigins string) {
	var origins []string
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
}
