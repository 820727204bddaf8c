package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(configTestLogger())
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":9090", cfg.HTTP.MetricsAddress)
	assert.True(t, cfg.HTTP.MetricsEnabled)

	assert.Equal(t, "whisper", cfg.STT.DefaultProvider)
	assert.Equal(t, 60*time.Minute, cfg.STT.MaxAudioDuration)
	assert.True(t, cfg.STT.Whisper.Enabled)
	assert.Equal(t, "base", cfg.STT.Whisper.Model)

	assert.Equal(t, 500*time.Millisecond, cfg.Diarization.MinSilence)
	assert.Equal(t, -40.0, cfg.Diarization.SilenceThresholdDB)
	assert.Equal(t, 2*time.Second, cfg.Diarization.SpeakerToggleMinLen)
	assert.Equal(t, 60*time.Second, cfg.Diarization.FallbackDuration)

	assert.Equal(t, 3, cfg.Sentiment.MinTextLength)
	assert.Equal(t, 0.8, cfg.Sentiment.StrongCutoff)
	assert.Equal(t, 0.3, cfg.Sentiment.CallThreshold)

	assert.Equal(t, 10*time.Second, cfg.Quality.LongPauseThreshold)
	assert.True(t, cfg.Quality.ScriptEnabled)

	assert.Equal(t, 5, cfg.Pipeline.MaxConcurrentCalls)
	assert.Equal(t, 10*time.Minute, cfg.Pipeline.ProcessingTimeout)

	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, "call_analysis_events", cfg.Messaging.QueueName)
	assert.Equal(t, "call_analysis_events", cfg.Messaging.RoutingKey, "routing key defaults to the queue name")
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("STT_DEFAULT_PROVIDER", "google")
	t.Setenv("STT_MAX_AUDIO_DURATION", "30m")
	t.Setenv("DIARIZE_MIN_SILENCE", "750ms")
	t.Setenv("SENTIMENT_STRONG_CUTOFF", "0.9")
	t.Setenv("PIPELINE_MAX_CONCURRENT", "8")
	t.Setenv("QUALITY_FORBIDDEN_PHRASES", "guaranteed returns, no risk ,")

	cfg, err := Load(configTestLogger())
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "google", cfg.STT.DefaultProvider)
	assert.Equal(t, 30*time.Minute, cfg.STT.MaxAudioDuration)
	assert.Equal(t, 750*time.Millisecond, cfg.Diarization.MinSilence)
	assert.Equal(t, 0.9, cfg.Sentiment.StrongCutoff)
	assert.Equal(t, 8, cfg.Pipeline.MaxConcurrentCalls)
	assert.Equal(t, []string{"guaranteed returns", "no risk"}, cfg.Quality.ForbiddenPhrases)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Run("bad log format", func(t *testing.T) {
		t.Setenv("LOG_FORMAT", "xml")
		_, err := Load(configTestLogger())
		assert.Error(t, err)
	})

	t.Run("non-negative silence threshold", func(t *testing.T) {
		t.Setenv("DIARIZE_SILENCE_THRESHOLD_DB", "5")
		_, err := Load(configTestLogger())
		assert.Error(t, err)
	})

	t.Run("strong cutoff out of range", func(t *testing.T) {
		t.Setenv("SENTIMENT_STRONG_CUTOFF", "1.5")
		_, err := Load(configTestLogger())
		assert.Error(t, err)
	})

	t.Run("zero concurrency", func(t *testing.T) {
		t.Setenv("PIPELINE_MAX_CONCURRENT", "0")
		_, err := Load(configTestLogger())
		assert.Error(t, err)
	})
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_BOOL_ON", "yes")
	t.Setenv("TEST_BOOL_OFF", "off")
	t.Setenv("TEST_BOOL_JUNK", "maybe")
	assert.True(t, getEnvBool("TEST_BOOL_ON", false))
	assert.False(t, getEnvBool("TEST_BOOL_OFF", true))
	assert.True(t, getEnvBool("TEST_BOOL_JUNK", true), "unparseable values keep the default")
	assert.False(t, getEnvBool("TEST_BOOL_UNSET", false))

	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT_JUNK", "forty-two")
	assert.Equal(t, 42, getEnvInt("TEST_INT", 0))
	assert.Equal(t, 7, getEnvInt("TEST_INT_JUNK", 7))

	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_DURATION_JUNK", "soon")
	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", 0))
	assert.Equal(t, time.Minute, getEnvDuration("TEST_DURATION_JUNK", time.Minute))

	t.Setenv("TEST_FLOAT", "-12.5")
	assert.Equal(t, -12.5, getEnvFloat("TEST_FLOAT", 0))
	assert.Equal(t, 1.5, getEnvFloat("TEST_FLOAT_UNSET", 1.5))
}
