package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/jastalk/jastalk/config"
	"github.com/jastalk/jastalk/internal/api/handlers"
	"github.com/jastalk/jastalk/internal/api/middleware"
	"github.com/jastalk/jastalk/internal/api/routes"
	"github.com/jastalk/jastalk/internal/cache"
	"github.com/jastalk/jastalk/internal/interview"
	"github.com/jastalk/jastalk/internal/ledger"
	"github.com/jastalk/jastalk/internal/logger"
	"github.com/jastalk/jastalk/internal/providers/llm"
	"github.com/jastalk/jastalk/internal/providers/speech"
	"github.com/jastalk/jastalk/internal/providers/stt"
	"github.com/jastalk/jastalk/internal/providers/voice"
	mongorepo "github.com/jastalk/jastalk/internal/repositories/mongo"
	pgrepo "github.com/jastalk/jastalk/internal/repositories/postgres"
	"github.com/jastalk/jastalk/internal/services"
	"github.com/jastalk/jastalk/internal/storage"
	"github.com/jastalk/jastalk/internal/workers"
)

func main() {
	_ = godotenv.Load()
	lg := logger.New()
	ctx := context.Background()

	if err := config.InitMongo(); err != nil {
		log.Fatalf("MongoDB init error: %v", err)
	}
	lg.Info("MongoDB connected")

	if err := config.EnsureMongoIndexes(); err != nil {
		lg.WithError(err).Warn("failed to ensure mongo indexes")
	}

	if err := config.InitPostgres(); err != nil {
		log.Fatalf("PostgreSQL init error: %v", err)
	}
	lg.Info("PostgreSQL connected")

	if err := config.InitRedis(); err != nil {
		log.Fatalf("Redis init error: %v", err)
	}
	lg.Info("Redis connected")

	// Providers
	llmProvider, err := llm.NewVertexGemini(ctx,
		os.Getenv("VERTEX_PROJECT_ID"),
		os.Getenv("VERTEX_LOCATION"),
		os.Getenv("VERTEX_MODEL"))
	if err != nil {
		log.Fatalf("Vertex init error: %v", err)
	}
	defer llmProvider.Close()

	sttProvider, err := stt.NewGoogleSpeech(ctx)
	if err != nil {
		log.Fatalf("Google Speech init error: %v", err)
	}
	defer sttProvider.Close()

	var uploader storage.Uploader
	if bucket := os.Getenv("GCS_BUCKET"); bucket != "" {
		gcsUploader, err := storage.NewGCSUploader(ctx, bucket)
		if err != nil {
			log.Fatalf("GCS init error: %v", err)
		}
		defer gcsUploader.Close()
		uploader = gcsUploader
	}

	// Storage layers
	mongoDB := config.MongoClient.Database(mongoDBName())
	sessionRepo := mongorepo.NewSessionRepo(mongoDB)
	convoRepo := pgrepo.NewConversationRepo(config.PostgresDB)
	jobdescRepo := pgrepo.NewJobDescriptionRepo(config.PostgresDB)

	creditStore := ledger.NewCachedStore(
		ledger.NewPostgresStore(config.PostgresDB),
		cache.NewRedisCache(config.RedisClient))

	// Services
	sessionSvc := services.NewSessionService(sessionRepo)
	convoSvc := services.NewConversationService(convoRepo)
	jobdescSvc := services.NewJobDescriptionService(jobdescRepo, uploader)
	analysisSvc := services.NewAnalysisService(llmProvider, sessionSvc)

	manager := interview.NewManager(interview.ManagerConfig{
		Log:      lg,
		Store:    creditStore,
		Sessions: sessionSvc,
		Convos:   convoSvc,
		Analysis: analysisSvc,
		Voice: func(agentIdentity string) voice.Session {
			return voice.NewTextSession(llmProvider, agentIdentity)
		},
		Speech: func() speech.Capture {
			return speech.NewBatchCapture(sttProvider, os.Getenv("SPEECH_LANGUAGE"))
		},
	})

	questionSvc := services.NewQuestionService(llmProvider, creditStore, manager, jobdescRepo, lg)

	// Background workers
	pool := &workers.InterviewWorkerPool{
		Redis:  config.RedisClient,
		STT:    sttProvider,
		LLM:    llmProvider,
		Logger: lg,
	}
	if err := pool.Start(ctx); err != nil {
		log.Fatalf("worker pool error: %v", err)
	}

	// HTTP
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(lg))

	routes.RegisterRoutes(r, routes.Deps{
		Session:        handlers.NewSessionHandler(sessionSvc, questionSvc, jobdescSvc, manager),
		Credit:         handlers.NewCreditHandler(manager, creditStore),
		Conversation:   handlers.NewConversationHandler(convoSvc),
		JobDescription: handlers.NewJobDescriptionHandler(jobdescSvc, questionSvc),
		WS:             handlers.NewWSHandler(manager, config.RedisClient, lg),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func mongoDBName() string {
	if v := os.Getenv("MONGO_DB"); v != "" {
		return v
	}
	return "jastalk"
}
