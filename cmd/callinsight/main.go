package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/analysis"
	"callinsight-server/pkg/config"
	"callinsight-server/pkg/database"
	"callinsight-server/pkg/diarize"
	"callinsight-server/pkg/messaging"
	"callinsight-server/pkg/metrics"
	"callinsight-server/pkg/pipeline"
	"callinsight-server/pkg/storage"
	"callinsight-server/pkg/stt"
)

var (
	logger    = logrus.New()
	appConfig *config.Config

	repo         database.CallRepository
	mysqlRepo    *database.MySQLRepository
	gateway      *storage.Gateway
	sttManager   *stt.ProviderManager
	orchestrator *pipeline.Orchestrator
	publisher    messaging.Publisher
	httpServer   *http.Server
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := initialize(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}

	startMetricsServer()

	logger.WithFields(logrus.Fields{
		"stt_provider":  appConfig.STT.DefaultProvider,
		"database":      repositoryName(),
		"storage":       storageName(),
		"amqp_enabled":  publisher != nil,
		"metrics_addr":  appConfig.HTTP.MetricsAddress,
	}).Info("Call analysis pipeline started")

	waitForShutdown(cancel)
}

func initialize(ctx context.Context) error {
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load(logger)
	if err != nil {
		return err
	}
	appConfig = cfg

	configureLogger(cfg.Logging)

	metrics.Init(logger)
	metrics.EnableMetrics(cfg.HTTP.MetricsEnabled)

	if err := initRepository(cfg); err != nil {
		return err
	}
	if err := initStorage(ctx, cfg); err != nil {
		return err
	}
	initSTT(cfg)
	initMessaging(cfg)
	initPipeline(cfg)

	return nil
}

func configureLogger(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
		logger.WithField("level", cfg.Level).Warn("Invalid log level, using info")
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	}
}

func initRepository(cfg *config.Config) error {
	if !cfg.Database.Enabled {
		repo = database.NewMemoryRepository(logger)
		logger.Warn("Database disabled, call records are held in memory and lost on restart")
		return nil
	}

	mysql, err := database.NewMySQLRepository(logger, cfg.Database)
	if err != nil {
		return err
	}
	mysqlRepo = mysql
	repo = mysql
	logger.WithFields(logrus.Fields{
		"host":     cfg.Database.Host,
		"database": cfg.Database.Database,
	}).Info("Connected to MySQL")
	return nil
}

func initStorage(ctx context.Context, cfg *config.Config) error {
	fallback := storage.NewFilesystemBackend(logger, cfg.Storage.LocalDir)

	var preferred storage.ObjectBackend
	if cfg.Storage.S3Enabled {
		s3, err := storage.NewS3Backend(ctx, logger, cfg.Storage)
		if err != nil {
			logger.WithError(err).Warn("S3 backend unavailable, starting on filesystem storage")
		} else {
			preferred = s3
		}
	}

	g, err := storage.NewGateway(logger, preferred, fallback)
	if err != nil {
		return err
	}
	gateway = g
	return nil
}

func initSTT(cfg *config.Config) {
	sttManager = stt.NewProviderManager(logger, cfg.STT.DefaultProvider, cfg.STT.MaxAudioDuration)

	if cfg.STT.Whisper.Enabled {
		if err := sttManager.RegisterProvider(stt.NewWhisperProvider(logger, &cfg.STT.Whisper)); err != nil {
			logger.WithError(err).Warn("Whisper provider unavailable")
		}
	}
	if cfg.STT.Google.Enabled {
		if err := sttManager.RegisterProvider(stt.NewGoogleProvider(logger, &cfg.STT.Google)); err != nil {
			logger.WithError(err).Warn("Google Speech-to-Text provider unavailable")
		}
	}
	if cfg.STT.Mock.Enabled {
		if err := sttManager.RegisterProvider(stt.NewMockProvider(logger)); err != nil {
			logger.WithError(err).Warn("Mock provider unavailable")
		}
	}

	if _, ok := sttManager.GetDefaultProvider(); !ok {
		logger.WithField("provider", cfg.STT.DefaultProvider).
			Warn("Default transcription provider is not registered, calls will fail until one is available")
	}
}

func initMessaging(cfg *config.Config) {
	if cfg.Messaging.AMQPURL == "" {
		logger.Info("AMQP not configured, analysis events will not be published")
		return
	}

	p, err := messaging.NewAMQPPublisher(logger, cfg.Messaging)
	if err != nil {
		logger.WithError(err).Warn("AMQP broker unreachable, continuing without event publishing")
		return
	}
	publisher = p
}

func initPipeline(cfg *config.Config) {
	diarizer := diarize.NewDiarizer(logger, cfg.Diarization)
	scorer := analysis.NewScorer(analysis.NewLexiconAnalyzer(logger), cfg.Sentiment)
	evaluator := analysis.NewEvaluator(logger, cfg.Quality)

	orchestrator = pipeline.NewOrchestrator(
		logger,
		cfg.Pipeline,
		cfg.Sentiment,
		repo,
		gateway,
		sttManager,
		cfg.STT.DefaultProvider,
		diarizer,
		scorer,
		evaluator,
		publisher,
	)
}

func startMetricsServer() {
	mux := http.NewServeMux()
	metrics.RegisterHandler(mux)
	mux.HandleFunc("/health", handleHealth)

	httpServer = &http.Server{
		Addr:         appConfig.HTTP.MetricsAddress,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Metrics listener failed")
		}
	}()
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if mysqlRepo != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := mysqlRepo.Health(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("database unreachable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func waitForShutdown(cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals

	logger.WithField("signal", sig.String()).Info("Shutting down")
	cancel()

	// Stop accepting work, then drain in-flight calls
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), appConfig.Pipeline.ShutdownTimeout+5*time.Second)
	defer shutdownCancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Metrics listener did not shut down cleanly")
		}
	}

	if orchestrator != nil {
		orchestrator.Shutdown()
	}

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.WithError(err).Warn("AMQP connection did not close cleanly")
		}
	}

	if mysqlRepo != nil {
		if err := mysqlRepo.Close(); err != nil {
			logger.WithError(err).Warn("Database connection did not close cleanly")
		}
	}

	logger.Info("Shutdown complete")
}

func repositoryName() string {
	if mysqlRepo != nil {
		return "mysql"
	}
	return "memory"
}

func storageName() string {
	if gateway.UsingFallback() {
		return "filesystem"
	}
	return "s3"
}
