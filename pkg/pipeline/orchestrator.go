package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/analysis"
	"callinsight-server/pkg/config"
	"callinsight-server/pkg/database"
	"callinsight-server/pkg/diarize"
	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/messaging"
	"callinsight-server/pkg/metrics"
	"callinsight-server/pkg/storage"
	"callinsight-server/pkg/stt"
)

// DeleteResult reports the outcome of a call deletion. Metadata deletion is
// all-or-nothing; the audio deletion is best-effort and its failure is
// surfaced here instead of failing the whole operation.
type DeleteResult struct {
	AudioDeleted bool
	StorageErr   error
}

// Orchestrator drives each call through the analysis pipeline and owns the
// call status state machine. Every run transitions its call to exactly one
// terminal state, and the terminal status write always happens after all
// derived records are written.
type Orchestrator struct {
	logger *logrus.Entry

	pipelineCfg  config.PipelineConfig
	sentimentCfg config.SentimentConfig

	repo      database.CallRepository
	storage   *storage.Gateway
	stt       *stt.ProviderManager
	provider  string
	diarizer  *diarize.Diarizer
	scorer    *analysis.Scorer
	evaluator *analysis.Evaluator
	publisher messaging.Publisher // nil when messaging is not configured

	pool *WorkerPool

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewOrchestrator wires the pipeline together and starts its worker pool.
// publisher may be nil.
func NewOrchestrator(
	logger *logrus.Logger,
	pipelineCfg config.PipelineConfig,
	sentimentCfg config.SentimentConfig,
	repo database.CallRepository,
	gateway *storage.Gateway,
	manager *stt.ProviderManager,
	providerName string,
	diarizer *diarize.Diarizer,
	scorer *analysis.Scorer,
	evaluator *analysis.Evaluator,
	publisher messaging.Publisher,
) *Orchestrator {
	return &Orchestrator{
		logger:       logger.WithField("component", "orchestrator"),
		pipelineCfg:  pipelineCfg,
		sentimentCfg: sentimentCfg,
		repo:         repo,
		storage:      gateway,
		stt:          manager,
		provider:     providerName,
		diarizer:     diarizer,
		scorer:       scorer,
		evaluator:    evaluator,
		publisher:    publisher,
		pool:         NewWorkerPool(logger, pipelineCfg.MaxConcurrentCalls, pipelineCfg.QueueSize),
		inflight:     make(map[string]struct{}),
	}
}

// SubmitForProcessing dispatches a call into the background worker pool and
// returns immediately. The call must be in the UPLOADED state; callers
// observe progress by polling call status.
func (o *Orchestrator) SubmitForProcessing(ctx context.Context, callID string) error {
	call, err := o.repo.GetCall(ctx, callID)
	if err != nil {
		return err
	}
	if call == nil {
		return errors.NewCallNotFound(callID)
	}

	if call.Status != database.StatusUploaded {
		return errors.NewInvalidTransition(callID, string(call.Status), string(database.StatusProcessing))
	}

	if err := o.pool.Submit(func() {
		if runErr := o.runGuarded(context.Background(), callID); runErr != nil {
			o.logger.WithError(runErr).WithField("call_id", callID).Warn("Background processing run did not complete")
		}
	}); err != nil {
		return errors.Wrap(err, "failed to enqueue call for processing").WithField("call_id", callID)
	}

	o.logger.WithField("call_id", callID).Info("Call queued for processing")
	return nil
}

// ProcessSynchronously runs the pipeline inline and returns its terminal
// error, if any. Unlike the background path it accepts calls in any
// non-processing state, so operational tooling can force a re-run of a
// completed or failed call.
func (o *Orchestrator) ProcessSynchronously(ctx context.Context, callID string) error {
	return o.runGuarded(ctx, callID)
}

// runGuarded serializes runs per call identifier. A second run for a call
// already in flight is rejected, never interleaved.
func (o *Orchestrator) runGuarded(ctx context.Context, callID string) error {
	o.mu.Lock()
	if _, busy := o.inflight[callID]; busy {
		o.mu.Unlock()
		return errors.NewAlreadyProcessing(callID)
	}
	o.inflight[callID] = struct{}{}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.inflight, callID)
		o.mu.Unlock()
	}()

	return o.run(ctx, callID)
}

func (o *Orchestrator) run(ctx context.Context, callID string) error {
	log := o.logger.WithField("call_id", callID)

	call, err := o.repo.GetCall(ctx, callID)
	if err != nil {
		return err
	}
	if call == nil {
		return errors.NewCallNotFound(callID)
	}
	if call.Status == database.StatusProcessing {
		return errors.NewAlreadyProcessing(callID)
	}

	if err := o.repo.UpdateCallStatus(ctx, callID, database.StatusProcessing, nil, nil); err != nil {
		return errors.Wrap(errors.ErrPersistenceFailed, err.Error()).WithField("call_id", callID)
	}

	metrics.IncActiveCalls()
	started := time.Now()
	defer func() {
		metrics.DecActiveCalls()
		metrics.ObserveProcessingDuration(time.Since(started).Seconds())
	}()

	runCtx, cancel := context.WithTimeout(ctx, o.pipelineCfg.ProcessingTimeout)
	defer cancel()

	log.Info("Processing started")

	summary, runErr := o.process(runCtx, call)
	if runErr == nil {
		now := time.Now()
		if err := o.repo.UpdateCallStatus(ctx, callID, database.StatusCompleted, nil, &now); err != nil {
			runErr = errors.Wrap(errors.ErrPersistenceFailed, err.Error()).WithField("call_id", callID)
		}
	}

	if runErr != nil {
		detail := failureDetail(runCtx, runErr)
		now := time.Now()
		// The terminal write uses the parent context so a pipeline timeout
		// does not also doom the FAILED status update
		if err := o.repo.UpdateCallStatus(ctx, callID, database.StatusFailed, &detail, &now); err != nil {
			log.WithError(err).Error("Failed to record FAILED status, call may appear stuck in PROCESSING")
		}
		metrics.RecordCallProcessed(string(database.StatusFailed))
		log.WithError(runErr).WithField("duration", time.Since(started).String()).Warn("Processing failed")
		o.publishEvent(callID, database.StatusFailed, nil, detail)
		return runErr
	}

	metrics.RecordCallProcessed(string(database.StatusCompleted))
	log.WithFields(logrus.Fields{
		"duration":          time.Since(started).String(),
		"speaker_sentiment": summary.speakerSentiment,
	}).Info("Processing completed")
	o.publishEvent(callID, database.StatusCompleted, summary, "")
	return nil
}

// runSummary carries the results of a successful pipeline run into the
// published analysis event.
type runSummary struct {
	overall          *float64
	flagCount        int
	speakerSentiment map[string]float64
}

// process runs the pipeline stages for one call. Transcription and
// diarization run concurrently since neither depends on the other; the
// remaining stages are sequential.
func (o *Orchestrator) process(ctx context.Context, call *database.Call) (*runSummary, error) {
	stopFetch := metrics.ObserveStage("fetch_audio")
	audioData, err := o.storage.Get(ctx, call.StorageKey)
	stopFetch()
	if err != nil {
		return nil, err
	}

	var (
		wg            sync.WaitGroup
		transcription *stt.Transcription
		transcribeErr error
		intervals     []diarize.SpeakerInterval
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		defer metrics.ObserveStage("transcription")()
		transcription, transcribeErr = o.stt.Transcribe(ctx, o.provider, audioData, call.ID)
	}()
	go func() {
		defer wg.Done()
		defer metrics.ObserveStage("diarization")()
		intervals = o.diarizer.Diarize(audioData)
	}()
	wg.Wait()

	if transcribeErr != nil {
		return nil, transcribeErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stopAnalysis := metrics.ObserveStage("analysis")
	aligned := analysis.Align(transcription.Segments, intervals)

	segments := make([]database.TranscriptSegment, 0, len(aligned))
	for _, seg := range aligned {
		label, score := o.scorer.Score(seg.Text)
		segments = append(segments, database.TranscriptSegment{
			ID:             uuid.New().String(),
			CallID:         call.ID,
			Speaker:        seg.Role,
			Text:           seg.Text,
			StartTime:      seg.Start,
			EndTime:        seg.End,
			Sentiment:      label,
			SentimentScore: score,
		})
	}
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].StartTime < segments[j].StartTime
	})

	callSentiment := analysis.AggregateCall(segments, o.sentimentCfg.CallThreshold)
	bySpeaker := analysis.AggregateBySpeaker(segments, o.sentimentCfg.CallThreshold)
	speakerMeans := make(map[string]float64, len(bySpeaker))
	for role, agg := range bySpeaker {
		speakerMeans[string(role)] = agg.Mean
	}
	score, flags := o.evaluator.Evaluate(call.ID, segments, callSentiment.Mean)
	stopAnalysis()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stopPersist := metrics.ObserveStage("persist")
	defer stopPersist()

	if err := o.repo.ReplaceTranscriptSegments(ctx, call.ID, segments); err != nil {
		return nil, errors.Wrap(errors.ErrPersistenceFailed, err.Error()).WithField("call_id", call.ID)
	}
	if err := o.repo.ReplaceComplianceFlags(ctx, call.ID, flags); err != nil {
		return nil, errors.Wrap(errors.ErrPersistenceFailed, err.Error()).WithField("call_id", call.ID)
	}
	if err := o.repo.UpsertQualityScore(ctx, call.ID, score); err != nil {
		return nil, errors.Wrap(errors.ErrPersistenceFailed, err.Error()).WithField("call_id", call.ID)
	}

	return &runSummary{
		overall:          &score.OverallScore,
		flagCount:        len(flags),
		speakerSentiment: speakerMeans,
	}, nil
}

// DeleteCall removes the call's metadata and derived records atomically, then
// deletes the stored audio. A storage failure does not undo the metadata
// deletion; it is reported through the result instead.
func (o *Orchestrator) DeleteCall(ctx context.Context, callID string) (*DeleteResult, error) {
	call, err := o.repo.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call == nil {
		return nil, errors.NewCallNotFound(callID)
	}

	o.mu.Lock()
	if _, busy := o.inflight[callID]; busy {
		o.mu.Unlock()
		return nil, errors.NewAlreadyProcessing(callID)
	}
	o.mu.Unlock()

	if err := o.repo.DeleteCall(ctx, callID); err != nil {
		return nil, errors.Wrap(errors.ErrPersistenceFailed, err.Error()).WithField("call_id", callID)
	}

	result := &DeleteResult{}
	existed, storageErr := o.storage.Delete(ctx, call.StorageKey)
	if storageErr != nil {
		o.logger.WithError(storageErr).WithField("call_id", callID).
			Warn("Call metadata deleted but stored audio could not be removed")
		result.StorageErr = storageErr
	} else {
		result.AudioDeleted = existed
	}

	o.logger.WithFields(logrus.Fields{
		"call_id":       callID,
		"audio_deleted": result.AudioDeleted,
	}).Info("Call deleted")

	return result, nil
}

// Shutdown drains the worker pool.
func (o *Orchestrator) Shutdown() {
	o.pool.Shutdown(o.pipelineCfg.ShutdownTimeout)
}

func (o *Orchestrator) publishEvent(callID string, status database.ProcessingStatus, summary *runSummary, errDetail string) {
	if o.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	event := messaging.AnalysisEvent{
		CallID:    callID,
		Status:    string(status),
		Error:     errDetail,
		Timestamp: time.Now().UTC(),
	}
	if summary != nil {
		event.OverallScore = summary.overall
		event.FlagCount = summary.flagCount
		event.SpeakerSentiment = summary.speakerSentiment
	}
	if err := o.publisher.PublishAnalysisEvent(ctx, event); err != nil {
		o.logger.WithError(err).WithField("call_id", callID).Warn("Analysis event not published")
	}
}

// failureDetail renders a human-readable error detail for the FAILED record.
// Deadline expiry is reported as a timeout rather than a generic context
// error.
func failureDetail(runCtx context.Context, err error) string {
	if runCtx.Err() == context.DeadlineExceeded || errors.IsErrorType(err, context.DeadlineExceeded) {
		return fmt.Sprintf("processing timeout exceeded: %v", err)
	}

	switch {
	case errors.IsErrorType(err, errors.ErrStorageUnavailable):
		return fmt.Sprintf("audio could not be retrieved from storage: %v", err)
	case errors.IsErrorType(err, errors.ErrAudioTooLong):
		return fmt.Sprintf("recording exceeds the maximum allowed length: %v", err)
	case errors.IsErrorType(err, errors.ErrTranscriptionFailed):
		return fmt.Sprintf("transcription failed: %v", err)
	case errors.IsErrorType(err, errors.ErrPersistenceFailed):
		return fmt.Sprintf("failed to persist analysis results: %v", err)
	default:
		return err.Error()
	}
}
