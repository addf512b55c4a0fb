package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"redlight/internal/assessment/controller"
	"redlight/internal/assessment/evaluation"
	"redlight/internal/assessment/signal"
	"redlight/internal/auth"
	catalogcontroller "redlight/internal/catalog/controller"
	catalogrepo "redlight/internal/catalog/repository"
	catalogservice "redlight/internal/catalog/service"
	"redlight/internal/common/cache"
	"redlight/internal/common/db"
	commonmw "redlight/internal/common/http/middleware"
	"redlight/internal/common/mq"
	"redlight/internal/common/storage"
	scorecontroller "redlight/internal/score/controller"
	"redlight/internal/score/repository"
	"redlight/internal/score/service"
	"redlight/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/assessment_service.yaml"

type handlers struct {
	auth     *auth.Controller
	signal   *controller.SignalController
	question *catalogcontroller.QuestionController
	score    *scorecontroller.ScoreController
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()
	ctx := context.Background()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(ctx, "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(ctx, "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	var mqClient mq.MessageQueue
	if appCfg.EventsEnabled() {
		kafkaQueue, err := mq.NewKafkaQueue(appCfg.Kafka)
		if err != nil {
			logger.Error(ctx, "init kafka failed", zap.Error(err))
			return
		}
		defer func() {
			_ = kafkaQueue.Close()
		}()
		if err := kafkaQueue.EnsureTopics(ctx); err != nil {
			logger.Warn(ctx, "ensure kafka topics failed", zap.Error(err))
		}
		mqClient = kafkaQueue
	}

	// Auth.
	revoked := auth.NewRevocationList(redisCache, appCfg.Auth.RedisTimeout)
	authService := auth.NewService(appCfg.Auth.JWTSecret, appCfg.Auth.JWTIssuer, revoked)

	// Signal.
	broadcaster, err := signal.NewBroadcaster(redisCache, appCfg.Signal.Broadcast)
	if err != nil {
		logger.Error(ctx, "init signal broadcaster failed", zap.Error(err))
		return
	}

	// Catalog.
	questionRepo := catalogrepo.NewQuestionRepositoryWithTTL(mysqlDB, redisCache, appCfg.Catalog.CacheTTL, appCfg.Catalog.EmptyCacheTTL)
	questionService := catalogservice.NewQuestionService(questionRepo)

	// Scores.
	var store repository.ScoreStore
	switch appCfg.Score.Store {
	case scoreStoreMySQL:
		store = repository.NewMySQLStore(mysqlDB)
	default:
		store = repository.NewRedisStore(redisCache, appCfg.Score.DedupTTL)
	}
	if err := seedTeams(ctx, store, appCfg.Score.Teams); err != nil {
		logger.Error(ctx, "seed teams failed", zap.Error(err))
		return
	}

	opts := service.RecorderOptions{
		Round:             appCfg.Score.Round,
		StoreTimeout:      appCfg.Score.StoreTimeout,
		SideEffectTimeout: appCfg.Score.SideEffectTimeout,
		MaxScore:          appCfg.Score.MaxScore,
	}
	if appCfg.ArchiveEnabled() {
		objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			logger.Error(ctx, "init minio failed", zap.Error(err))
			return
		}
		archive, err := repository.NewSubmissionArchive(objStorage, appCfg.MinIO.Bucket, appCfg.Score.ArchivePrefix)
		if err != nil {
			logger.Error(ctx, "init submission archive failed", zap.Error(err))
			return
		}
		if err := archive.Prepare(ctx); err != nil {
			logger.Warn(ctx, "prepare submission bucket failed", zap.Error(err))
		}
		opts.Archive = archive
	}
	if mqClient != nil {
		opts.Events = service.NewScoreEventPublisher(mqClient, appCfg.Score.EventTopic)
	}
	recorder, err := service.NewRecorder(store, opts)
	if err != nil {
		logger.Error(ctx, "init score recorder failed", zap.Error(err))
		return
	}

	grader, err := evaluation.NewClient(evaluation.Config{
		Endpoint: appCfg.Grader.Endpoint,
		Timeout:  appCfg.Grader.Timeout,
	}, signal.NewStoredGate(broadcaster))
	if err != nil {
		logger.Error(ctx, "init grader client failed", zap.Error(err))
		return
	}
	submissions, err := service.NewSubmissionService(questionService, grader, recorder)
	if err != nil {
		logger.Error(ctx, "init submission service failed", zap.Error(err))
		return
	}

	leaderboardRepo := repository.NewLeaderboardRepository(redisCache, appCfg.Score.LeaderboardAppliedTTL)
	leaderboardService := service.NewLeaderboardService(leaderboardRepo, recorder.Round())
	if mqClient != nil {
		projector := service.NewLeaderboardProjector(mqClient, leaderboardRepo)
		if err := projector.Subscribe(ctx, appCfg.Score.EventTopic, appCfg.Score.ConsumerGroup, &mq.SubscribeOptions{
			DeadLetterTopic: appCfg.Score.DeadLetterTopic,
		}); err != nil {
			logger.Error(ctx, "subscribe score events failed", zap.Error(err))
			return
		}
	}

	limiter := commonmw.NewRateLimiter(redisCache, "assessment:rate", appCfg.Auth.RedisTimeout)
	httpServer := buildHTTPServer(appCfg.Server, authService, limiter, handlers{
		auth:     auth.NewController(revoked),
		signal:   controller.NewSignalController(broadcaster, appCfg.Signal.Relay),
		question: catalogcontroller.NewQuestionController(questionService),
		score:    scorecontroller.NewScoreController(submissions, recorder, leaderboardService),
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "assessment http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("score_store", appCfg.Score.Store),
			zap.String("round", recorder.Round()),
		)
		errCh <- httpServer.ListenAndServe()
	}()

	shutdownCtx, stop := ossignal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	stopCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(stopCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	if mqClient != nil {
		_ = mqClient.Stop()
	}
}

func seedTeams(ctx context.Context, store repository.ScoreStore, teams []string) error {
	if len(teams) == 0 {
		return nil
	}
	seeder, ok := store.(repository.TeamSeeder)
	if !ok {
		return fmt.Errorf("score store cannot create teams")
	}
	for _, team := range teams {
		if err := seeder.CreateTeam(ctx, team); err != nil {
			return fmt.Errorf("create team %s failed: %w", team, err)
		}
	}
	logger.Info(ctx, "teams seeded", zap.Int("count", len(teams)))
	return nil
}

func buildHTTPServer(cfg ServerConfig, authService *auth.Service, limiter *commonmw.RateLimiter, h handlers) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.CORSMiddleware(cfg.CORS))
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	api := router.Group("/api/v1")
	api.PUT("/signal", auth.Middleware(authService, auth.RoleAdmin), h.signal.Put)

	authed := api.Group("", auth.Middleware(authService))
	authed.GET("/auth/me", h.auth.Me)
	authed.POST("/auth/logout", h.auth.Logout)

	authed.GET("/signal", h.signal.Get)
	authed.GET("/signal/ws", h.signal.Stream)

	authed.GET("/questions", h.question.List)
	authed.GET("/questions/:id", h.question.Get)

	authed.POST("/scores", commonmw.RateLimit(limiter, "scores", cfg.ScoreLimit, participantID), h.score.Record)
	authed.GET("/teams/:id", h.score.GetTeam)
	authed.GET("/leaderboard", h.score.Leaderboard)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func participantID(c *gin.Context) string {
	p, ok := auth.ParticipantFrom(c)
	if !ok {
		return ""
	}
	return p.ID
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
