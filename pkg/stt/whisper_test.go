package stt

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callinsight-server/pkg/config"
)

func whisperTestConfig() *config.WhisperSTTConfig {
	return &config.WhisperSTTConfig{
		Enabled:            true,
		BinaryPath:         "whisper",
		Model:              "base",
		Timeout:            time.Minute,
		MaxConcurrentCalls: 2,
	}
}

func TestWhisperTranscribeParsesSegments(t *testing.T) {
	provider := NewWhisperProvider(testLogger(), whisperTestConfig())
	provider.runner = func(_ context.Context, _ *config.WhisperSTTConfig, audioPath, outputDir string) error {
		base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
		payload := `{
			"text": " Hello there. How can I help?",
			"language": "en",
			"segments": [
				{"start": 0.0, "end": 1.5, "text": " Hello there."},
				{"start": 1.5, "end": 3.2, "text": " How can I help?"}
			]
		}`
		return os.WriteFile(filepath.Join(outputDir, base+".json"), []byte(payload), 0o644)
	}

	result, err := provider.Transcribe(context.Background(), []byte("fake-audio"))
	require.NoError(t, err)

	assert.Equal(t, "Hello there. How can I help?", result.Text)
	assert.Equal(t, "en", result.Language)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, Segment{Start: 0.0, End: 1.5, Text: "Hello there."}, result.Segments[0])
	assert.Equal(t, Segment{Start: 1.5, End: 3.2, Text: "How can I help?"}, result.Segments[1])
}

func TestWhisperTranscribeSynthesizesSegmentWhenTimingMissing(t *testing.T) {
	provider := NewWhisperProvider(testLogger(), whisperTestConfig())
	provider.runner = func(_ context.Context, _ *config.WhisperSTTConfig, audioPath, outputDir string) error {
		base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
		return os.WriteFile(filepath.Join(outputDir, base+".json"), []byte(`{"text": "just text"}`), 0o644)
	}

	result, err := provider.Transcribe(context.Background(), []byte("fake-audio"))
	require.NoError(t, err)
	require.Len(t, result.Segments, 1)
	assert.Equal(t, "just text", result.Segments[0].Text)
}

func TestWhisperTranscribeEmptyOutputFails(t *testing.T) {
	provider := NewWhisperProvider(testLogger(), whisperTestConfig())
	provider.runner = func(_ context.Context, _ *config.WhisperSTTConfig, audioPath, outputDir string) error {
		base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
		return os.WriteFile(filepath.Join(outputDir, base+".json"), []byte(`{"text": "  "}`), 0o644)
	}

	_, err := provider.Transcribe(context.Background(), []byte("fake-audio"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transcription text")
}

func TestWhisperTranscribeDisabled(t *testing.T) {
	cfg := whisperTestConfig()
	cfg.Enabled = false
	provider := NewWhisperProvider(testLogger(), cfg)

	_, err := provider.Transcribe(context.Background(), []byte("fake-audio"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}

func TestWhisperInitializeRequiresBinaryPath(t *testing.T) {
	cfg := whisperTestConfig()
	cfg.BinaryPath = ""
	provider := NewWhisperProvider(testLogger(), cfg)

	require.Error(t, provider.Initialize())
}
