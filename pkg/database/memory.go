package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/errors"
)

// MemoryRepository is an in-memory CallRepository used when no database is
// configured, and by tests. All operations copy on read and write so callers
// never share internal state.
type MemoryRepository struct {
	logger *logrus.Entry

	mu       sync.RWMutex
	calls    map[string]*Call
	segments map[string][]TranscriptSegment
	scores   map[string]*QualityScore
	flags    map[string][]ComplianceFlag
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository(logger *logrus.Logger) *MemoryRepository {
	return &MemoryRepository{
		logger:   logger.WithField("component", "memory_repository"),
		calls:    make(map[string]*Call),
		segments: make(map[string][]TranscriptSegment),
		scores:   make(map[string]*QualityScore),
		flags:    make(map[string][]ComplianceFlag),
	}
}

// CreateCall stores a new call record.
func (r *MemoryRepository) CreateCall(_ context.Context, call *Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[call.ID]; exists {
		return errors.Wrap(errors.ErrAlreadyExists, "call already exists").WithField("call_id", call.ID)
	}

	stored := *call
	r.calls[call.ID] = &stored
	return nil
}

// GetCall returns a copy of the call, or ErrCallNotFound.
func (r *MemoryRepository) GetCall(_ context.Context, id string) (*Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	call, exists := r.calls[id]
	if !exists {
		return nil, errors.NewCallNotFound(id)
	}

	result := *call
	return &result, nil
}

// ListCalls returns calls matching the filters, newest first.
func (r *MemoryRepository) ListCalls(_ context.Context, filters CallFilters) ([]*Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Call
	for _, call := range r.calls {
		if filters.Status != "" && call.Status != filters.Status {
			continue
		}
		if filters.UploadedFrom != nil && call.UploadedAt.Before(*filters.UploadedFrom) {
			continue
		}
		if filters.UploadedTo != nil && call.UploadedAt.After(*filters.UploadedTo) {
			continue
		}
		copied := *call
		result = append(result, &copied)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UploadedAt.After(result[j].UploadedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return nil, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}

	return result, nil
}

// UpdateCallStatus transitions a call's status.
func (r *MemoryRepository) UpdateCallStatus(_ context.Context, id string, status ProcessingStatus, errDetail *string, completedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, exists := r.calls[id]
	if !exists {
		return errors.NewCallNotFound(id)
	}

	call.Status = status
	call.ErrorMessage = errDetail
	call.ProcessedAt = completedAt
	return nil
}

// ReplaceTranscriptSegments replaces the call's transcript with the given
// segments.
func (r *MemoryRepository) ReplaceTranscriptSegments(_ context.Context, callID string, segments []TranscriptSegment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[callID]; !exists {
		return errors.NewCallNotFound(callID)
	}

	r.segments[callID] = append([]TranscriptSegment(nil), segments...)
	return nil
}

// UpsertQualityScore sets or replaces the call's quality score.
func (r *MemoryRepository) UpsertQualityScore(_ context.Context, callID string, score *QualityScore) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[callID]; !exists {
		return errors.NewCallNotFound(callID)
	}

	stored := *score
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	r.scores[callID] = &stored
	return nil
}

// ReplaceComplianceFlags replaces the call's compliance flags.
func (r *MemoryRepository) ReplaceComplianceFlags(_ context.Context, callID string, flags []ComplianceFlag) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[callID]; !exists {
		return errors.NewCallNotFound(callID)
	}

	r.flags[callID] = append([]ComplianceFlag(nil), flags...)
	return nil
}

// GetTranscriptSegments returns the call's segments ordered by start time.
func (r *MemoryRepository) GetTranscriptSegments(_ context.Context, callID string) ([]TranscriptSegment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.calls[callID]; !exists {
		return nil, errors.NewCallNotFound(callID)
	}

	result := make([]TranscriptSegment, len(r.segments[callID]))
	copy(result, r.segments[callID])
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartTime < result[j].StartTime
	})
	return result, nil
}

// GetQualityScore returns the call's quality score, nil when absent.
func (r *MemoryRepository) GetQualityScore(_ context.Context, callID string) (*QualityScore, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.calls[callID]; !exists {
		return nil, errors.NewCallNotFound(callID)
	}

	score, exists := r.scores[callID]
	if !exists {
		return nil, nil
	}
	result := *score
	return &result, nil
}

// GetComplianceFlags returns the call's compliance flags.
func (r *MemoryRepository) GetComplianceFlags(_ context.Context, callID string) ([]ComplianceFlag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.calls[callID]; !exists {
		return nil, errors.NewCallNotFound(callID)
	}

	result := make([]ComplianceFlag, len(r.flags[callID]))
	copy(result, r.flags[callID])
	return result, nil
}

// DeleteCall removes the call and all derived records. The whole deletion
// happens under one lock, mirroring the transactional cascade of the SQL
// implementation.
func (r *MemoryRepository) DeleteCall(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[id]; !exists {
		return errors.NewCallNotFound(id)
	}

	delete(r.flags, id)
	delete(r.segments, id)
	delete(r.scores, id)
	delete(r.calls, id)
	return nil
}
