package database

import (
	"context"
	"time"
)

// CallRepository is the persistence contract consumed by the pipeline
// orchestrator and the reporting layer. Implementations must make DeleteCall
// cascade over segments, score and flags atomically.
type CallRepository interface {
	CreateCall(ctx context.Context, call *Call) error
	GetCall(ctx context.Context, id string) (*Call, error)
	ListCalls(ctx context.Context, filters CallFilters) ([]*Call, error)

	// UpdateCallStatus transitions a call. errDetail must be non-nil for
	// StatusFailed; completedAt must be non-nil for terminal states.
	UpdateCallStatus(ctx context.Context, id string, status ProcessingStatus, errDetail *string, completedAt *time.Time) error

	// ReplaceTranscriptSegments and ReplaceComplianceFlags swap out the
	// call's previous derived records atomically, so re-running a call
	// leaves exactly one set.
	ReplaceTranscriptSegments(ctx context.Context, callID string, segments []TranscriptSegment) error
	UpsertQualityScore(ctx context.Context, callID string, score *QualityScore) error
	ReplaceComplianceFlags(ctx context.Context, callID string, flags []ComplianceFlag) error

	GetTranscriptSegments(ctx context.Context, callID string) ([]TranscriptSegment, error)
	GetQualityScore(ctx context.Context, callID string) (*QualityScore, error)
	GetComplianceFlags(ctx context.Context, callID string) ([]ComplianceFlag, error)

	// DeleteCall removes the call and all derived records in one transaction.
	DeleteCall(ctx context.Context, id string) error
}
