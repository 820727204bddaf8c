package database

import (
	"time"
)

// ProcessingStatus is the lifecycle state of a call.
type ProcessingStatus string

const (
	StatusUploaded   ProcessingStatus = "uploaded"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// IsTerminal reports whether the status is a terminal state.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SpeakerRole identifies which party is speaking in a segment.
type SpeakerRole string

const (
	RoleAgent    SpeakerRole = "Agent"
	RoleCustomer SpeakerRole = "Customer"
	RoleUnknown  SpeakerRole = "Unknown"
)

// Sentiment is the five-way sentiment classification persisted per segment.
type Sentiment string

const (
	SentimentPositive   Sentiment = "positive"
	SentimentNegative   Sentiment = "negative"
	SentimentNeutral    Sentiment = "neutral"
	SentimentFrustrated Sentiment = "frustrated"
	SentimentSatisfied  Sentiment = "satisfied"
)

// Severity grades a compliance flag.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Call represents one uploaded recording and its processing state.
// Status mutation is owned by the pipeline orchestrator.
type Call struct {
	ID            string           `db:"id" json:"id"`
	StorageKey    string           `db:"storage_key" json:"storage_key"`
	AudioLocation string           `db:"audio_location" json:"audio_location"`
	Filename      string           `db:"filename" json:"filename"`
	Duration      int              `db:"duration" json:"duration"` // seconds, 0 if unknown
	Status        ProcessingStatus `db:"status" json:"status"`
	UploadedAt    time.Time        `db:"uploaded_at" json:"uploaded_at"`
	ProcessedAt   *time.Time       `db:"processed_at" json:"processed_at,omitempty"`
	ErrorMessage  *string          `db:"error_message" json:"error_message,omitempty"`
}

// TranscriptSegment is one speaker-attributed utterance of a call.
// Segments of a call are ordered by start time; gaps between them are silence.
type TranscriptSegment struct {
	ID             string      `db:"id" json:"id"`
	CallID         string      `db:"call_id" json:"call_id"`
	Speaker        SpeakerRole `db:"speaker" json:"speaker"`
	Text           string      `db:"text" json:"text"`
	StartTime      float64     `db:"start_time" json:"start_time"` // seconds into the call
	EndTime        float64     `db:"end_time" json:"end_time"`
	Sentiment      Sentiment   `db:"sentiment" json:"sentiment"`
	SentimentScore float64     `db:"sentiment_score" json:"sentiment_score"` // signed, [-1.0, 1.0]
}

// QualityScore holds the per-call quality metrics. At most one per call.
type QualityScore struct {
	ID              string    `db:"id" json:"id"`
	CallID          string    `db:"call_id" json:"call_id"`
	OverallScore    float64   `db:"overall_score" json:"overall_score"` // 0-100
	PolitenessScore float64   `db:"politeness_score" json:"politeness_score"`
	ClarityScore    float64   `db:"clarity_score" json:"clarity_score"`
	EmpathyScore    float64   `db:"empathy_score" json:"empathy_score"`
	ResolutionScore float64   `db:"resolution_score" json:"resolution_score"`
	ScriptAdherence *float64  `db:"script_adherence_score" json:"script_adherence_score,omitempty"`
	AvgSentiment    float64   `db:"avg_sentiment" json:"avg_sentiment"`
	SilenceDuration float64   `db:"silence_duration" json:"silence_duration"` // seconds
	OverlapDuration float64   `db:"overlap_duration" json:"overlap_duration"` // seconds
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// ComplianceFlag marks a policy-relevant event detected in a call.
type ComplianceFlag struct {
	ID          string    `db:"id" json:"id"`
	CallID      string    `db:"call_id" json:"call_id"`
	FlagType    string    `db:"flag_type" json:"flag_type"` // open taxonomy, e.g. "long_pause"
	Description string    `db:"description" json:"description"`
	Severity    Severity  `db:"severity" json:"severity"`
	Timestamp   *float64  `db:"timestamp" json:"timestamp,omitempty"` // seconds into the call
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// CallFilters narrows ListCalls results for the reporting layer.
type CallFilters struct {
	Status       ProcessingStatus
	UploadedFrom *time.Time
	UploadedTo   *time.Time
	Limit        int
	Offset       int
}
