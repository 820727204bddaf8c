package stt

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/audio"
	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/metrics"
)

// Segment is one time-stamped span of transcribed text.
type Segment struct {
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcription is the result of transcribing one recording.
type Transcription struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// Provider defines the interface for speech-to-text providers
type Provider interface {
	// Initialize initializes the provider with any required configuration
	Initialize() error

	// Name returns the provider name
	Name() string

	// Transcribe converts an audio recording into time-stamped text segments
	Transcribe(ctx context.Context, audioData []byte) (*Transcription, error)
}

// ProviderManager manages all speech-to-text providers
type ProviderManager struct {
	logger           *logrus.Logger
	providers        map[string]Provider
	defaultProvider  string
	maxAudioDuration time.Duration
}

// NewProviderManager creates a new provider manager. maxAudioDuration caps
// the length of audio accepted for transcription; zero disables the cap.
func NewProviderManager(logger *logrus.Logger, defaultProvider string, maxAudioDuration time.Duration) *ProviderManager {
	return &ProviderManager{
		logger:           logger,
		providers:        make(map[string]Provider),
		defaultProvider:  defaultProvider,
		maxAudioDuration: maxAudioDuration,
	}
}

// RegisterProvider registers a speech-to-text provider
func (m *ProviderManager) RegisterProvider(provider Provider) error {
	if err := provider.Initialize(); err != nil {
		m.logger.WithFields(logrus.Fields{
			"provider": provider.Name(),
			"error":    err,
		}).Error("Failed to initialize speech-to-text provider")
		return err
	}

	m.providers[provider.Name()] = provider
	m.logger.WithField("provider", provider.Name()).Info("Registered speech-to-text provider")

	return nil
}

// GetProvider returns a provider by name
func (m *ProviderManager) GetProvider(name string) (Provider, bool) {
	provider, exists := m.providers[name]
	return provider, exists
}

// GetDefaultProvider returns the default provider
func (m *ProviderManager) GetDefaultProvider() (Provider, bool) {
	return m.GetProvider(m.defaultProvider)
}

// MaxAudioDuration returns the configured audio length cap.
func (m *ProviderManager) MaxAudioDuration() time.Duration {
	return m.maxAudioDuration
}

// Transcribe routes a recording to the named provider, falling back to the
// default provider when the name is unknown. Audio longer than the configured
// cap is rejected before any provider is invoked.
func (m *ProviderManager) Transcribe(ctx context.Context, providerName string, audioData []byte, callID string) (*Transcription, error) {
	if m.maxAudioDuration > 0 {
		if d := audio.ProbeDuration(audioData); d > m.maxAudioDuration {
			return nil, errors.Wrap(errors.ErrAudioTooLong, "recording rejected").
				WithField("call_id", callID).
				WithField("duration", d.String()).
				WithField("max_duration", m.maxAudioDuration.String())
		}
	}

	provider, exists := m.GetProvider(providerName)
	if !exists {
		m.logger.WithFields(logrus.Fields{
			"call_id":          callID,
			"provider":         providerName,
			"default_provider": m.defaultProvider,
		}).Warn("Provider not found, falling back to default")

		provider, exists = m.GetDefaultProvider()
		if !exists {
			return nil, errors.ErrNoProviderAvailable
		}
	}

	startTime := time.Now()
	m.logger.WithFields(logrus.Fields{
		"call_id":  callID,
		"provider": provider.Name(),
	}).Info("Starting transcription")

	result, err := provider.Transcribe(ctx, audioData)

	elapsed := time.Since(startTime)
	metrics.ObserveSTTLatency(provider.Name(), elapsed.Seconds())
	if err != nil {
		metrics.RecordSTTRequest(provider.Name(), "error")
	} else {
		metrics.RecordSTTRequest(provider.Name(), "success")
	}

	m.logger.WithFields(logrus.Fields{
		"call_id":     callID,
		"provider":    provider.Name(),
		"duration_ms": elapsed.Milliseconds(),
		"error":       err != nil,
	}).Info("Transcription completed")

	if err != nil {
		return nil, errors.Wrap(errors.ErrTranscriptionFailed, err.Error()).
			WithField("call_id", callID).
			WithField("provider", provider.Name())
	}

	return result, nil
}
