package stt

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"callinsight-server/pkg/config"
)

// GoogleProvider implements the Provider interface for Google Speech-to-Text
type GoogleProvider struct {
	logger *logrus.Logger
	client *speech.Client
	config *config.GoogleSTTConfig
}

// NewGoogleProvider creates a new Google Speech-to-Text provider
func NewGoogleProvider(logger *logrus.Logger, cfg *config.GoogleSTTConfig) *GoogleProvider {
	return &GoogleProvider{
		logger: logger,
		config: cfg,
	}
}

// Name returns the provider name
func (p *GoogleProvider) Name() string {
	return "google"
}

// Initialize initializes the Google Speech-to-Text client
func (p *GoogleProvider) Initialize() error {
	if p.config == nil {
		return fmt.Errorf("Google STT configuration is required")
	}

	if !p.config.Enabled {
		p.logger.Info("Google STT is disabled, skipping initialization")
		return nil
	}

	var clientOptions []option.ClientOption

	// Use API key if provided, otherwise use credentials file
	if p.config.APIKey != "" {
		clientOptions = append(clientOptions, option.WithAPIKey(p.config.APIKey))
		p.logger.Debug("Using Google STT API key authentication")
	} else if p.config.CredentialsFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(p.config.CredentialsFile))
		p.logger.WithField("credentials_file", p.config.CredentialsFile).Debug("Using Google STT credentials file")
	} else {
		p.logger.Warn("No Google STT credentials provided (API key or credentials file)")
		return fmt.Errorf("Google STT requires either API key or credentials file")
	}

	var err error
	p.client, err = speech.NewClient(context.Background(), clientOptions...)
	if err != nil {
		p.logger.WithError(err).Error("Failed to create Google Speech client")
		return fmt.Errorf("failed to create Google Speech client: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"language":    p.config.Language,
		"sample_rate": p.config.SampleRate,
		"model":       p.config.Model,
	}).Info("Google Speech-to-Text client initialized successfully")
	return nil
}

// Transcribe sends the whole recording through the batch Recognize API. Word
// time offsets are requested so each result can be turned into a time-stamped
// segment.
func (p *GoogleProvider) Transcribe(ctx context.Context, audioData []byte) (*Transcription, error) {
	if p.client == nil {
		return nil, fmt.Errorf("google provider is not initialized")
	}

	recognitionConfig := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(p.config.SampleRate),
		LanguageCode:               p.config.Language,
		EnableAutomaticPunctuation: true,
		EnableWordTimeOffsets:      true,
	}
	if p.config.Model != "" {
		recognitionConfig.Model = p.config.Model
	}

	resp, err := p.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: recognitionConfig,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audioData},
		},
	})
	if err != nil {
		p.logger.WithError(err).Error("Google Speech-to-Text recognition failed")
		return nil, err
	}

	result := &Transcription{Language: p.config.Language}

	var parts []string
	for _, res := range resp.Results {
		if len(res.Alternatives) == 0 {
			continue
		}
		alt := res.Alternatives[0]
		text := strings.TrimSpace(alt.Transcript)
		if text == "" {
			continue
		}
		parts = append(parts, text)

		segment := Segment{Text: text}
		if len(alt.Words) > 0 {
			first := alt.Words[0]
			last := alt.Words[len(alt.Words)-1]
			if first.StartTime != nil {
				segment.Start = first.StartTime.AsDuration().Seconds()
			}
			if last.EndTime != nil {
				segment.End = last.EndTime.AsDuration().Seconds()
			}
		}
		if res.LanguageCode != "" {
			result.Language = res.LanguageCode
		}
		result.Segments = append(result.Segments, segment)
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("google speech returned no transcription results")
	}

	result.Text = strings.Join(parts, " ")
	return result, nil
}
