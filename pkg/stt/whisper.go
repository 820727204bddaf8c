package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/config"
)

type whisperRunner func(ctx context.Context, cfg *config.WhisperSTTConfig, audioPath, outputDir string) error

// WhisperProvider uses the open-source Whisper CLI to transcribe recordings.
// BinaryPath can point to any executable that accepts Whisper CLI arguments,
// including remote-server wrappers.
type WhisperProvider struct {
	logger    *logrus.Logger
	config    *config.WhisperSTTConfig
	runner    whisperRunner
	semaphore chan struct{} // For rate limiting concurrent calls
}

// NewWhisperProvider constructs a Whisper provider backed by the CLI referenced in config.
func NewWhisperProvider(logger *logrus.Logger, cfg *config.WhisperSTTConfig) *WhisperProvider {
	// Determine the concurrency limit
	var semaphore chan struct{}
	maxConcurrent := cfg.MaxConcurrentCalls

	if maxConcurrent == -1 {
		// Auto mode: use number of CPU cores
		maxConcurrent = runtime.NumCPU()
		logger.WithField("max_concurrent", maxConcurrent).Info("Whisper rate limiting set to auto (CPU cores)")
	} else if maxConcurrent > 0 {
		logger.WithField("max_concurrent", maxConcurrent).Info("Whisper rate limiting enabled")
	} else {
		logger.Info("Whisper rate limiting disabled (unlimited concurrent calls)")
	}

	if maxConcurrent > 0 {
		semaphore = make(chan struct{}, maxConcurrent)
	}

	return &WhisperProvider{
		logger:    logger,
		config:    cfg,
		runner:    defaultWhisperRunner,
		semaphore: semaphore,
	}
}

// Name returns the provider identifier.
func (p *WhisperProvider) Name() string {
	return "whisper"
}

// Initialize validates the configuration before the provider is registered.
func (p *WhisperProvider) Initialize() error {
	if p.config == nil {
		return fmt.Errorf("whisper configuration is required")
	}

	if !p.config.Enabled {
		p.logger.Info("Whisper STT disabled; skipping initialization")
		return nil
	}

	if p.config.BinaryPath == "" {
		return fmt.Errorf("WHISPER_BINARY_PATH must be set when Whisper STT is enabled")
	}

	// Check if binary exists
	binaryPath, err := exec.LookPath(p.config.BinaryPath)
	if err != nil {
		p.logger.WithError(err).Warn("Whisper binary not found in PATH; transcription may fail at runtime")
	} else {
		// Attempt to verify binary by checking version
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		versionCmd := exec.CommandContext(ctx, binaryPath, "--version")
		output, err := versionCmd.CombinedOutput()
		if err != nil {
			// Version check failed - could be a remote server or custom wrapper
			p.logger.WithError(err).Debug("Could not verify Whisper version (this is normal for remote servers or custom wrappers)")
		} else {
			version := strings.TrimSpace(string(output))
			p.logger.WithField("version", version).Info("Whisper binary version detected")
		}
	}

	p.logger.WithFields(logrus.Fields{
		"binary": p.config.BinaryPath,
		"model":  p.config.Model,
	}).Info("Whisper provider initialized")
	return nil
}

// Transcribe writes the recording to a temporary WAV file, invokes the Whisper
// CLI and parses its JSON output into time-stamped segments.
func (p *WhisperProvider) Transcribe(ctx context.Context, audioData []byte) (*Transcription, error) {
	if !p.config.Enabled {
		return nil, fmt.Errorf("whisper provider is disabled")
	}

	// Acquire semaphore slot if rate limiting is enabled
	if p.semaphore != nil {
		select {
		case p.semaphore <- struct{}{}:
			defer func() { <-p.semaphore }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	audioFile, err := os.CreateTemp("", "whisper-audio-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary audio file: %w", err)
	}
	defer os.Remove(audioFile.Name())

	if _, err := audioFile.Write(audioData); err != nil {
		audioFile.Close()
		return nil, fmt.Errorf("failed to buffer audio for whisper: %w", err)
	}
	if err := audioFile.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp audio file: %w", err)
	}

	outputDir, err := os.MkdirTemp("", "whisper-output-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create whisper output directory: %w", err)
	}
	defer os.RemoveAll(outputDir)

	runCtx := ctx
	cancel := func() {}
	if p.config.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.config.Timeout)
	}

	err = p.runner(runCtx, p.config, audioFile.Name(), outputDir)
	cancel()
	if err != nil {
		return nil, err
	}

	return p.parseOutput(outputDir, audioFile.Name())
}

func (p *WhisperProvider) parseOutput(outputDir, audioPath string) (*Transcription, error) {
	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	target := filepath.Join(outputDir, base+".json")

	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("failed to read whisper output (%s): %w", target, err)
	}

	var payload struct {
		Text     string `json:"text"`
		Language string `json:"language"`
		Segments []struct {
			Start float64 `json:"start"`
			End   float64 `json:"end"`
			Text  string  `json:"text"`
		} `json:"segments"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse whisper JSON output: %w", err)
	}

	text := strings.TrimSpace(payload.Text)
	if text == "" {
		return nil, fmt.Errorf("whisper output had no transcription text")
	}

	result := &Transcription{
		Text:     text,
		Language: payload.Language,
	}
	for _, seg := range payload.Segments {
		segText := strings.TrimSpace(seg.Text)
		if segText == "" {
			continue
		}
		result.Segments = append(result.Segments, Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  segText,
		})
	}

	// Some wrappers omit segment timing; synthesize a single segment so the
	// rest of the pipeline always has time-stamped text to work with
	if len(result.Segments) == 0 {
		result.Segments = []Segment{{Start: 0, End: 0, Text: text}}
	}

	return result, nil
}

func defaultWhisperRunner(ctx context.Context, cfg *config.WhisperSTTConfig, audioPath, outputDir string) error {
	args := []string{audioPath, "--model", cfg.Model, "--output_dir", outputDir, "--output_format", "json"}

	if cfg.Language != "" {
		args = append(args, "--language", cfg.Language)
	}

	cmd := exec.CommandContext(ctx, cfg.BinaryPath, args...)
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("whisper command failed: %w: %s", err, combined.String())
	}
	return nil
}
