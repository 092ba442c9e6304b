// Package main runs the live classroom HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/config"
	"github.com/aura-classroom/backend/internal/admission"
	"github.com/aura-classroom/backend/internal/auth"
	"github.com/aura-classroom/backend/internal/gateway"
	"github.com/aura-classroom/backend/internal/media"
	"github.com/aura-classroom/backend/internal/meetings"
	"github.com/aura-classroom/backend/internal/middleware"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/proctoring"
	"github.com/aura-classroom/backend/internal/quiz"
	"github.com/aura-classroom/backend/internal/realtime"
	"github.com/aura-classroom/backend/internal/sessions"
	"github.com/aura-classroom/backend/internal/store/memstore"
	"github.com/aura-classroom/backend/pkg/database"
	"github.com/aura-classroom/backend/pkg/logger"
	"github.com/aura-classroom/backend/pkg/metrics"
	"github.com/aura-classroom/backend/pkg/queue"
	"github.com/aura-classroom/backend/pkg/redis"
	"github.com/aura-classroom/backend/pkg/response"
	"github.com/aura-classroom/backend/pkg/storage"
)

// stores groups the persistence backends of every service.
type stores struct {
	auth       auth.Store
	meetings   meetings.Store
	sessions   sessions.Store
	admission  admission.Store
	quiz       quiz.Store
	proctoring proctoring.Store
	close      func()
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	if cfg.Store.Driver == "memory" {
		mem := memstore.New()
		log.Warn("using in-memory store; data is lost on restart")
		return &stores{
			auth: mem, meetings: mem, sessions: mem, admission: mem, quiz: mem, proctoring: mem,
			close: func() {},
		}, nil
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), log)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &stores{
		auth:       auth.NewRepository(pool),
		meetings:   meetings.NewRepository(pool),
		sessions:   sessions.NewRepository(pool),
		admission:  admission.NewRepository(pool),
		quiz:       quiz.NewRepository(pool),
		proctoring: proctoring.NewRepository(pool),
		close:      pool.Close,
	}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{}).Fatal("load config", zap.Error(err))
	}
	log := logger.New(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	defer log.Sync()

	metrics.Init()

	ctx := context.Background()
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal("store", zap.Error(err))
	}
	defer st.close()

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Warn("redis disabled", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			Endpoint:        cfg.AWS.Endpoint,
			FramesBucket:    cfg.AWS.FramesBucket,
		}, log)
		if err != nil {
			log.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	// Real-time router, bridged across instances through Redis when available
	var (
		pub realtime.Publisher
		sub realtime.Subscriber
	)
	if rdb != nil {
		bridge := realtime.NewRedisPubSub(rdb.Client, log)
		pub, sub = bridge, bridge
	}
	router := realtime.NewRouter(log, pub, sub)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	mediaCfg := media.Config{
		URL:       cfg.Media.URL,
		APIKey:    cfg.Media.APIKey,
		APISecret: cfg.Media.APISecret,
		TTL:       time.Duration(cfg.Media.CredentialTTLHours) * time.Hour,
	}

	// Services
	registry := sessions.NewRegistry(st.sessions, log)
	registry.SetEvictor(router)
	gate := admission.NewController(st.admission, registry, router, log)
	orchestrator := quiz.NewOrchestrator(st.quiz, router, log)
	meetingService := meetings.NewService(st.meetings, registry, gate, orchestrator, media.NewIssuer(mediaCfg), router, log)

	engineOpts := []proctoring.Option{}
	if cfg.Detector.URL != "" {
		engineOpts = append(engineOpts, proctoring.WithDetector(
			proctoring.NewHTTPDetector(cfg.Detector.URL, time.Duration(cfg.Detector.TimeoutSec)*time.Second)))
	}
	if s3Client != nil && rdb != nil {
		engineOpts = append(engineOpts, proctoring.WithFrameQueue(s3Client, queue.NewQueue(rdb.Client, log)))
	}
	engine := proctoring.NewEngine(st.proctoring, router, log, engineOpts...)

	dispatcher := gateway.NewDispatcher(meetingService, registry, gate, orchestrator, router, log)
	router.SetPresenceHandler(dispatcher.Presence)

	// Handlers
	authHandler := auth.NewHandler(st.auth, jwtService, log)
	meetingHandler := meetings.NewHandler(meetingService)
	sessionHandler := sessions.NewHandler(registry, meetingService)
	admissionHandler := admission.NewHandler(gate)
	proctoringHandler := proctoring.NewHandler(engine, meetingService)
	quizHandler := quiz.NewHandler(orchestrator, meetingService, registry)
	mediaWebhook := media.NewWebhookHandler(mediaCfg, registry, log)

	engineRouter := gin.New()
	engineRouter.Use(gin.Recovery())
	engineRouter.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	engineRouter.Use(middleware.Logger(log))
	engineRouter.Use(metrics.Middleware())

	engineRouter.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	engineRouter.GET("/metrics", metrics.Handler())

	// Auth (public)
	authGroup := engineRouter.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	tutor := middleware.RequireRole(models.RoleTutor)
	student := middleware.RequireRole(models.RoleStudent)

	// Protected API (JWT required)
	api := engineRouter.Group("")
	api.Use(middleware.JWT(jwtService.ValidateIdentity))
	{
		api.GET("/auth/me", authHandler.Me)

		// Meetings
		api.POST("/meetings", tutor, meetingHandler.Create)
		api.GET("/meetings", tutor, meetingHandler.ListMine)
		api.POST("/meetings/join-by-code", meetingHandler.JoinByCode)
		api.GET("/meetings/:id", meetingHandler.Get)
		api.GET("/meetings/:id/snapshot", meetingHandler.Snapshot)
		api.POST("/meetings/:id/start", tutor, meetingHandler.Start)
		api.POST("/meetings/:id/end", tutor, meetingHandler.End)
		api.POST("/meetings/:id/lock", tutor, meetingHandler.Lock)
		api.POST("/meetings/:id/unlock", tutor, meetingHandler.Unlock)
		api.POST("/meetings/:id/join", meetingHandler.Join)
		api.POST("/meetings/:id/kick", tutor, meetingHandler.Kick)

		// Sessions
		api.POST("/meetings/:id/leave", sessionHandler.Leave)
		api.GET("/meetings/:id/participants", tutor, sessionHandler.Participants)
		api.GET("/meetings/:id/participants/summary", tutor, sessionHandler.Summary)
		api.GET("/sessions/:id", sessionHandler.Get)

		// Admission
		api.POST("/meetings/:id/join-requests", student, admissionHandler.RequestJoin)
		api.GET("/meetings/:id/join-requests", tutor, admissionHandler.ListJoins)
		api.GET("/join-requests/:id", admissionHandler.GetJoin)
		api.PUT("/join-requests/:id", tutor, admissionHandler.RespondJoin)
		api.POST("/meetings/:id/lock-requests", student, admissionHandler.RequestLock)
		api.GET("/meetings/:id/lock-requests", tutor, admissionHandler.ListLocks)
		api.PUT("/lock-requests/:id", tutor, admissionHandler.RespondLock)

		// Proctoring
		api.POST("/sessions/:id/alerts", proctoringHandler.IngestAlert)
		api.POST("/sessions/:id/analyze-frame", proctoringHandler.AnalyzeFrame)
		api.POST("/sessions/:id/frame-check", proctoringHandler.FrameCheck)
		api.GET("/sessions/:id/risk", proctoringHandler.Risk)
		api.GET("/meetings/:id/alerts", tutor, proctoringHandler.ListAlerts)
		api.GET("/meetings/:id/alerts/live", tutor, proctoringHandler.LiveAlerts)
		api.GET("/meetings/:id/proctoring/stats", tutor, proctoringHandler.Stats)

		// Quizzes
		api.POST("/meetings/:id/quizzes", tutor, quizHandler.Send)
		api.GET("/meetings/:id/quizzes", tutor, quizHandler.List)
		api.GET("/meetings/:id/quizzes/active", quizHandler.Active)
		api.GET("/meetings/:id/leaderboard", quizHandler.Leaderboard)
		api.GET("/quizzes/:id/results", tutor, quizHandler.Results)
		api.POST("/quizzes/:id/answers", student, quizHandler.Answer)
		api.POST("/quizzes/:id/end", tutor, quizHandler.End)
	}

	// Webhooks (no JWT; the provider signs the body)
	engineRouter.POST("/webhooks/media", mediaWebhook.Handle)

	// WebSocket (token in query; no Authorization header required)
	engineRouter.GET("/ws", realtime.ServeWs(router, dispatcher, jwtService.ValidateIdentity, realtime.Limits{
		EventsPerSecond: cfg.Realtime.EventsPerSecond,
		Burst:           cfg.Realtime.Burst,
	}, log))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engineRouter,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	if cfg.Quiz.ExpiryWatchdog {
		go orchestrator.RunExpiryWatchdog(bgCtx, time.Duration(cfg.Quiz.WatchdogIntervalSec)*time.Second)
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}
