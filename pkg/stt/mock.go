package stt

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/audio"
)

// mockScript is a canned two-party conversation used when no real
// speech-to-text backend is available.
var mockScript = []string{
	"Thank you for calling, how can I help you today?",
	"Hi, I have a question about my last invoice.",
	"Of course, let me pull up your account details.",
	"I was charged twice for the same service.",
	"I see the duplicate charge, I will issue a refund right away.",
	"Great, thank you so much for your help.",
	"Is there anything else I can do for you?",
	"No, that was everything, have a good day.",
}

// MockProvider returns a deterministic canned transcription. It is used in
// development and tests where neither Whisper nor Google is available.
type MockProvider struct {
	logger *logrus.Logger
}

// NewMockProvider creates a new mock provider
func NewMockProvider(logger *logrus.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Name returns the provider name
func (p *MockProvider) Name() string {
	return "mock"
}

// Initialize is a no-op for the mock provider
func (p *MockProvider) Initialize() error {
	p.logger.Info("Mock STT provider initialized")
	return nil
}

// Transcribe spreads the canned script evenly across the recording's probed
// duration. The same payload always yields the same segments.
func (p *MockProvider) Transcribe(ctx context.Context, audioData []byte) (*Transcription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	total := audio.ProbeDuration(audioData).Seconds()
	if total <= 0 {
		total = 30
	}

	per := total / float64(len(mockScript))
	result := &Transcription{
		Text:     strings.Join(mockScript, " "),
		Language: "en",
	}
	for i, line := range mockScript {
		result.Segments = append(result.Segments, Segment{
			Start: float64(i) * per,
			End:   float64(i+1) * per,
			Text:  line,
		})
	}

	return result, nil
}
