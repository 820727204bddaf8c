package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/errors"
)

// Config represents the complete application configuration
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	HTTP        HTTPConfig        `json:"http"`
	Storage     StorageConfig     `json:"storage"`
	STT         STTConfig         `json:"stt"`
	Diarization DiarizationConfig `json:"diarization"`
	Sentiment   SentimentConfig   `json:"sentiment"`
	Quality     QualityConfig     `json:"quality"`
	Pipeline    PipelineConfig    `json:"pipeline"`
	Database    DatabaseConfig    `json:"database"`
	Messaging   MessagingConfig   `json:"messaging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"LOG_FORMAT" default:"json"` // json or text
}

// HTTPConfig holds the metrics/health listener configuration
type HTTPConfig struct {
	MetricsAddress string `json:"metrics_address" env:"METRICS_ADDRESS" default:":9090"`
	MetricsEnabled bool   `json:"metrics_enabled" env:"METRICS_ENABLED" default:"true"`
}

// StorageConfig holds storage gateway configuration
type StorageConfig struct {
	// Preferred object-store backend (S3 or any S3-compatible endpoint such as MinIO)
	S3Enabled        bool   `json:"s3_enabled" env:"STORAGE_S3_ENABLED" default:"true"`
	S3Endpoint       string `json:"s3_endpoint" env:"STORAGE_S3_ENDPOINT"`
	S3Region         string `json:"s3_region" env:"STORAGE_S3_REGION" default:"us-east-1"`
	S3Bucket         string `json:"s3_bucket" env:"STORAGE_S3_BUCKET" default:"callinsight-audio"`
	S3AccessKey      string `json:"s3_access_key" env:"STORAGE_S3_ACCESS_KEY"`
	S3SecretKey      string `json:"s3_secret_key" env:"STORAGE_S3_SECRET_KEY"`
	S3ForcePathStyle bool   `json:"s3_force_path_style" env:"STORAGE_S3_FORCE_PATH_STYLE" default:"true"`

	// Filesystem fallback root
	LocalDir string `json:"local_dir" env:"STORAGE_LOCAL_DIR" default:"./storage"`
}

// STTConfig holds speech-to-text configuration
type STTConfig struct {
	DefaultProvider  string        `json:"default_provider" env:"STT_DEFAULT_PROVIDER" default:"whisper"`
	MaxAudioDuration time.Duration `json:"max_audio_duration" env:"STT_MAX_AUDIO_DURATION" default:"60m"`

	Whisper WhisperSTTConfig `json:"whisper"`
	Google  GoogleSTTConfig  `json:"google"`
	Mock    MockSTTConfig    `json:"mock"`
}

// WhisperSTTConfig configures the open-source Whisper CLI provider
type WhisperSTTConfig struct {
	Enabled            bool          `json:"enabled" env:"WHISPER_ENABLED" default:"true"`
	BinaryPath         string        `json:"binary_path" env:"WHISPER_BINARY_PATH" default:"whisper"`
	Model              string        `json:"model" env:"WHISPER_MODEL" default:"base"` // tiny, base, small, medium, large
	Language           string        `json:"language" env:"WHISPER_LANGUAGE"`
	Timeout            time.Duration `json:"timeout" env:"WHISPER_TIMEOUT" default:"5m"`
	MaxConcurrentCalls int           `json:"max_concurrent_calls" env:"WHISPER_MAX_CONCURRENT" default:"-1"`
}

// GoogleSTTConfig configures the Google Speech-to-Text provider
type GoogleSTTConfig struct {
	Enabled         bool   `json:"enabled" env:"GOOGLE_STT_ENABLED" default:"false"`
	APIKey          string `json:"api_key" env:"GOOGLE_STT_API_KEY"`
	CredentialsFile string `json:"credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS"`
	Language        string `json:"language" env:"GOOGLE_STT_LANGUAGE" default:"en-US"`
	SampleRate      int    `json:"sample_rate" env:"GOOGLE_STT_SAMPLE_RATE" default:"16000"`
	Model           string `json:"model" env:"GOOGLE_STT_MODEL" default:"phone_call"`
}

// MockSTTConfig configures the deterministic mock provider used in dev/test
type MockSTTConfig struct {
	Enabled bool `json:"enabled" env:"MOCK_STT_ENABLED" default:"false"`
}

// DiarizationConfig holds the heuristic segmentation constants. The silence
// and toggle thresholds are tuning defaults, not derived values.
type DiarizationConfig struct {
	ExpectedSpeakers    int           `json:"expected_speakers" env:"DIARIZE_EXPECTED_SPEAKERS" default:"2"`
	MinSilence          time.Duration `json:"min_silence" env:"DIARIZE_MIN_SILENCE" default:"500ms"`
	SilenceThresholdDB  float64       `json:"silence_threshold_db" env:"DIARIZE_SILENCE_THRESHOLD_DB" default:"-40"`
	SilencePadding      time.Duration `json:"silence_padding" env:"DIARIZE_SILENCE_PADDING" default:"200ms"`
	SpeakerToggleMinLen time.Duration `json:"speaker_toggle_min_len" env:"DIARIZE_TOGGLE_MIN_LEN" default:"2s"`
	FallbackDuration    time.Duration `json:"fallback_duration" env:"DIARIZE_FALLBACK_DURATION" default:"60s"`
}

// SentimentConfig holds sentiment scoring configuration
type SentimentConfig struct {
	MinTextLength int     `json:"min_text_length" env:"SENTIMENT_MIN_TEXT_LENGTH" default:"3"`
	StrongCutoff  float64 `json:"strong_cutoff" env:"SENTIMENT_STRONG_CUTOFF" default:"0.8"`
	CallThreshold float64 `json:"call_threshold" env:"SENTIMENT_CALL_THRESHOLD" default:"0.3"`
}

// QualityConfig holds quality scoring and compliance rule configuration
type QualityConfig struct {
	LongPauseThreshold time.Duration `json:"long_pause_threshold" env:"QUALITY_LONG_PAUSE_THRESHOLD" default:"10s"`
	ForbiddenPhrases   []string      `json:"forbidden_phrases" env:"QUALITY_FORBIDDEN_PHRASES"`
	ScriptGreeting     string        `json:"script_greeting" env:"QUALITY_SCRIPT_GREETING" default:"thank you for calling"`
	ScriptClosing      string        `json:"script_closing" env:"QUALITY_SCRIPT_CLOSING" default:"anything else"`
	ScriptEnabled      bool          `json:"script_enabled" env:"QUALITY_SCRIPT_ENABLED" default:"true"`
}

// PipelineConfig bounds the orchestrator's concurrency and timeouts
type PipelineConfig struct {
	MaxConcurrentCalls int           `json:"max_concurrent_calls" env:"PIPELINE_MAX_CONCURRENT" default:"5"`
	QueueSize          int           `json:"queue_size" env:"PIPELINE_QUEUE_SIZE" default:"100"`
	ProcessingTimeout  time.Duration `json:"processing_timeout" env:"PIPELINE_PROCESSING_TIMEOUT" default:"10m"`
	ShutdownTimeout    time.Duration `json:"shutdown_timeout" env:"PIPELINE_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds MySQL configuration. When disabled the in-memory
// repository is used instead.
type DatabaseConfig struct {
	Enabled         bool          `json:"enabled" env:"DB_ENABLED" default:"false"`
	Host            string        `json:"host" env:"DB_HOST" default:"localhost"`
	Port            int           `json:"port" env:"DB_PORT" default:"3306"`
	Database        string        `json:"database" env:"DB_NAME" default:"callinsight"`
	Username        string        `json:"username" env:"DB_USER" default:"callinsight"`
	Password        string        `json:"password" env:"DB_PASSWORD"`
	MaxOpenConns    int           `json:"max_open_conns" env:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `json:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" default:"5m"`
	QueryTimeout    time.Duration `json:"query_timeout" env:"DB_QUERY_TIMEOUT" default:"30s"`
}

// MessagingConfig holds AMQP configuration for analysis events
type MessagingConfig struct {
	AMQPURL        string `json:"amqp_url" env:"AMQP_URL"`
	QueueName      string `json:"queue_name" env:"AMQP_QUEUE_NAME" default:"call_analysis_events"`
	ExchangeName   string `json:"exchange_name" env:"AMQP_EXCHANGE_NAME"`
	RoutingKey     string `json:"routing_key" env:"AMQP_ROUTING_KEY"`
	PublishRetries int    `json:"publish_retries" env:"AMQP_PUBLISH_RETRIES" default:"3"`
}

// Load reads configuration from .env files and the environment
func Load(logger *logrus.Logger) (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "unknown"
	}

	possibleEnvFiles := []string{
		".env",
		"../.env",
		filepath.Join(wd, ".env"),
	}

	var loadedFrom string
	for _, envFile := range possibleEnvFiles {
		if _, statErr := os.Stat(envFile); statErr == nil {
			if loadErr := godotenv.Load(envFile); loadErr == nil {
				loadedFrom, _ = filepath.Abs(envFile)
				break
			}
		}
	}

	if loadedFrom != "" {
		logger.WithFields(logrus.Fields{
			"working_dir": wd,
			"path":        loadedFrom,
		}).Info("Loaded .env file")
	} else {
		logger.WithField("working_dir", wd).Debug("No .env file found, using environment variables only")
	}

	config := &Config{}

	if err := loadLoggingConfig(&config.Logging); err != nil {
		return nil, errors.Wrap(err, "failed to load logging configuration")
	}
	if err := loadHTTPConfig(&config.HTTP); err != nil {
		return nil, errors.Wrap(err, "failed to load http configuration")
	}
	if err := loadStorageConfig(&config.Storage); err != nil {
		return nil, errors.Wrap(err, "failed to load storage configuration")
	}
	if err := loadSTTConfig(&config.STT); err != nil {
		return nil, errors.Wrap(err, "failed to load stt configuration")
	}
	if err := loadDiarizationConfig(&config.Diarization); err != nil {
		return nil, errors.Wrap(err, "failed to load diarization configuration")
	}
	if err := loadSentimentConfig(&config.Sentiment); err != nil {
		return nil, errors.Wrap(err, "failed to load sentiment configuration")
	}
	if err := loadQualityConfig(&config.Quality); err != nil {
		return nil, errors.Wrap(err, "failed to load quality configuration")
	}
	if err := loadPipelineConfig(&config.Pipeline); err != nil {
		return nil, errors.Wrap(err, "failed to load pipeline configuration")
	}
	if err := loadDatabaseConfig(&config.Database); err != nil {
		return nil, errors.Wrap(err, "failed to load database configuration")
	}
	if err := loadMessagingConfig(&config.Messaging); err != nil {
		return nil, errors.Wrap(err, "failed to load messaging configuration")
	}

	return config, nil
}

func loadLoggingConfig(cfg *LoggingConfig) error {
	cfg.Level = getEnv("LOG_LEVEL", "info")
	cfg.Format = strings.ToLower(getEnv("LOG_FORMAT", "json"))

	if cfg.Format != "json" && cfg.Format != "text" {
		return fmt.Errorf("invalid LOG_FORMAT %q, must be json or text", cfg.Format)
	}
	return nil
}

func loadHTTPConfig(cfg *HTTPConfig) error {
	cfg.MetricsAddress = getEnv("METRICS_ADDRESS", ":9090")
	cfg.MetricsEnabled = getEnvBool("METRICS_ENABLED", true)
	return nil
}

func loadStorageConfig(cfg *StorageConfig) error {
	cfg.S3Enabled = getEnvBool("STORAGE_S3_ENABLED", true)
	cfg.S3Endpoint = getEnv("STORAGE_S3_ENDPOINT", "")
	cfg.S3Region = getEnv("STORAGE_S3_REGION", "us-east-1")
	cfg.S3Bucket = getEnv("STORAGE_S3_BUCKET", "callinsight-audio")
	cfg.S3AccessKey = getEnv("STORAGE_S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnv("STORAGE_S3_SECRET_KEY", "")
	cfg.S3ForcePathStyle = getEnvBool("STORAGE_S3_FORCE_PATH_STYLE", true)
	cfg.LocalDir = getEnv("STORAGE_LOCAL_DIR", "./storage")

	if cfg.LocalDir == "" {
		return fmt.Errorf("STORAGE_LOCAL_DIR must not be empty")
	}
	return nil
}

func loadSTTConfig(cfg *STTConfig) error {
	cfg.DefaultProvider = getEnv("STT_DEFAULT_PROVIDER", "whisper")
	cfg.MaxAudioDuration = getEnvDuration("STT_MAX_AUDIO_DURATION", 60*time.Minute)

	cfg.Whisper.Enabled = getEnvBool("WHISPER_ENABLED", true)
	cfg.Whisper.BinaryPath = getEnv("WHISPER_BINARY_PATH", "whisper")
	cfg.Whisper.Model = getEnv("WHISPER_MODEL", "base")
	cfg.Whisper.Language = getEnv("WHISPER_LANGUAGE", "")
	cfg.Whisper.Timeout = getEnvDuration("WHISPER_TIMEOUT", 5*time.Minute)
	cfg.Whisper.MaxConcurrentCalls = getEnvInt("WHISPER_MAX_CONCURRENT", -1)

	cfg.Google.Enabled = getEnvBool("GOOGLE_STT_ENABLED", false)
	cfg.Google.APIKey = getEnv("GOOGLE_STT_API_KEY", "")
	cfg.Google.CredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", "")
	cfg.Google.Language = getEnv("GOOGLE_STT_LANGUAGE", "en-US")
	cfg.Google.SampleRate = getEnvInt("GOOGLE_STT_SAMPLE_RATE", 16000)
	cfg.Google.Model = getEnv("GOOGLE_STT_MODEL", "phone_call")

	cfg.Mock.Enabled = getEnvBool("MOCK_STT_ENABLED", false)

	if cfg.MaxAudioDuration <= 0 {
		return fmt.Errorf("STT_MAX_AUDIO_DURATION must be positive")
	}
	return nil
}

func loadDiarizationConfig(cfg *DiarizationConfig) error {
	cfg.ExpectedSpeakers = getEnvInt("DIARIZE_EXPECTED_SPEAKERS", 2)
	cfg.MinSilence = getEnvDuration("DIARIZE_MIN_SILENCE", 500*time.Millisecond)
	cfg.SilenceThresholdDB = getEnvFloat("DIARIZE_SILENCE_THRESHOLD_DB", -40)
	cfg.SilencePadding = getEnvDuration("DIARIZE_SILENCE_PADDING", 200*time.Millisecond)
	cfg.SpeakerToggleMinLen = getEnvDuration("DIARIZE_TOGGLE_MIN_LEN", 2*time.Second)
	cfg.FallbackDuration = getEnvDuration("DIARIZE_FALLBACK_DURATION", 60*time.Second)

	if cfg.ExpectedSpeakers < 1 {
		return fmt.Errorf("DIARIZE_EXPECTED_SPEAKERS must be at least 1")
	}
	if cfg.SilenceThresholdDB >= 0 {
		return fmt.Errorf("DIARIZE_SILENCE_THRESHOLD_DB must be negative (dBFS)")
	}
	return nil
}

func loadSentimentConfig(cfg *SentimentConfig) error {
	cfg.MinTextLength = getEnvInt("SENTIMENT_MIN_TEXT_LENGTH", 3)
	cfg.StrongCutoff = getEnvFloat("SENTIMENT_STRONG_CUTOFF", 0.8)
	cfg.CallThreshold = getEnvFloat("SENTIMENT_CALL_THRESHOLD", 0.3)

	if cfg.StrongCutoff <= 0 || cfg.StrongCutoff >= 1 {
		return fmt.Errorf("SENTIMENT_STRONG_CUTOFF must be in (0, 1)")
	}
	return nil
}

func loadQualityConfig(cfg *QualityConfig) error {
	cfg.LongPauseThreshold = getEnvDuration("QUALITY_LONG_PAUSE_THRESHOLD", 10*time.Second)
	cfg.ScriptGreeting = getEnv("QUALITY_SCRIPT_GREETING", "thank you for calling")
	cfg.ScriptClosing = getEnv("QUALITY_SCRIPT_CLOSING", "anything else")
	cfg.ScriptEnabled = getEnvBool("QUALITY_SCRIPT_ENABLED", true)

	if raw := getEnv("QUALITY_FORBIDDEN_PHRASES", ""); raw != "" {
		for _, phrase := range strings.Split(raw, ",") {
			phrase = strings.TrimSpace(phrase)
			if phrase != "" {
				cfg.ForbiddenPhrases = append(cfg.ForbiddenPhrases, phrase)
			}
		}
	}
	return nil
}

func loadPipelineConfig(cfg *PipelineConfig) error {
	cfg.MaxConcurrentCalls = getEnvInt("PIPELINE_MAX_CONCURRENT", 5)
	cfg.QueueSize = getEnvInt("PIPELINE_QUEUE_SIZE", 100)
	cfg.ProcessingTimeout = getEnvDuration("PIPELINE_PROCESSING_TIMEOUT", 10*time.Minute)
	cfg.ShutdownTimeout = getEnvDuration("PIPELINE_SHUTDOWN_TIMEOUT", 30*time.Second)

	if cfg.MaxConcurrentCalls < 1 {
		return fmt.Errorf("PIPELINE_MAX_CONCURRENT must be at least 1")
	}
	if cfg.ProcessingTimeout <= 0 {
		return fmt.Errorf("PIPELINE_PROCESSING_TIMEOUT must be positive")
	}
	return nil
}

func loadDatabaseConfig(cfg *DatabaseConfig) error {
	cfg.Enabled = getEnvBool("DB_ENABLED", false)
	cfg.Host = getEnv("DB_HOST", "localhost")
	cfg.Port = getEnvInt("DB_PORT", 3306)
	cfg.Database = getEnv("DB_NAME", "callinsight")
	cfg.Username = getEnv("DB_USER", "callinsight")
	cfg.Password = getEnv("DB_PASSWORD", "")
	cfg.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.ConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.QueryTimeout = getEnvDuration("DB_QUERY_TIMEOUT", 30*time.Second)

	if cfg.Enabled && cfg.Database == "" {
		return fmt.Errorf("DB_NAME must be set when DB_ENABLED is true")
	}
	return nil
}

func loadMessagingConfig(cfg *MessagingConfig) error {
	cfg.AMQPURL = getEnv("AMQP_URL", "")
	cfg.QueueName = getEnv("AMQP_QUEUE_NAME", "call_analysis_events")
	cfg.ExchangeName = getEnv("AMQP_EXCHANGE_NAME", "")
	cfg.RoutingKey = getEnv("AMQP_ROUTING_KEY", "")
	cfg.PublishRetries = getEnvInt("AMQP_PUBLISH_RETRIES", 3)

	if cfg.RoutingKey == "" {
		cfg.RoutingKey = cfg.QueueName
	}
	return nil
}

// Helper function to get an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Helper function to get a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

// Helper function to get an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// Helper function to get a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}

// getEnvFloat retrieves an environment variable and converts it to float64
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatValue
}
