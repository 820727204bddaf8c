package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/config"
	"callinsight-server/pkg/database"
	"callinsight-server/pkg/metrics"
)

// SubScoreRule computes one 0-100 quality dimension from the transcript.
// Results outside [0, 100] are clamped by the evaluator.
type SubScoreRule func(segments []database.TranscriptSegment) float64

// Evaluator derives the per-call quality score and compliance flags from the
// aligned, sentiment-scored transcript. The sub-score rules are pluggable;
// the defaults are keyword heuristics over the agent's speech.
type Evaluator struct {
	logger *logrus.Entry
	config config.QualityConfig

	// Overridable scoring rules
	Politeness SubScoreRule
	Clarity    SubScoreRule
	Empathy    SubScoreRule
	Resolution SubScoreRule
}

// NewEvaluator creates an evaluator with the default scoring rules.
func NewEvaluator(logger *logrus.Logger, cfg config.QualityConfig) *Evaluator {
	e := &Evaluator{
		logger: logger.WithField("component", "quality_evaluator"),
		config: cfg,
	}
	e.Politeness = e.politenessScore
	e.Clarity = e.clarityScore
	e.Empathy = e.empathyScore
	e.Resolution = e.resolutionScore
	return e
}

// Evaluate produces the quality score and compliance flags for one call.
// Segments must already be ordered by start time.
func (e *Evaluator) Evaluate(callID string, segments []database.TranscriptSegment, avgSentiment float64) (*database.QualityScore, []database.ComplianceFlag) {
	ordered := make([]database.TranscriptSegment, len(segments))
	copy(ordered, segments)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartTime < ordered[j].StartTime
	})

	silence, overlap := timingTotals(ordered)

	score := &database.QualityScore{
		ID:              uuid.New().String(),
		CallID:          callID,
		PolitenessScore: clampScore(e.Politeness(ordered)),
		ClarityScore:    clampScore(e.Clarity(ordered)),
		EmpathyScore:    clampScore(e.Empathy(ordered)),
		ResolutionScore: clampScore(e.Resolution(ordered)),
		AvgSentiment:    avgSentiment,
		SilenceDuration: silence,
		OverlapDuration: overlap,
	}

	if e.config.ScriptEnabled {
		adherence := clampScore(e.scriptAdherenceScore(ordered))
		score.ScriptAdherence = &adherence
	}

	score.OverallScore = overallScore(score)

	flags := e.complianceFlags(callID, ordered)

	e.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"overall": score.OverallScore,
		"flags":   len(flags),
	}).Debug("Quality evaluation completed")

	return score, flags
}

// overallScore is the weighted mean of the present sub-scores. Weights are
// renormalized when script adherence is absent.
func overallScore(s *database.QualityScore) float64 {
	sum := s.PolitenessScore*0.20 + s.ClarityScore*0.20 + s.EmpathyScore*0.20 + s.ResolutionScore*0.25
	weight := 0.85
	if s.ScriptAdherence != nil {
		sum += *s.ScriptAdherence * 0.15
		weight = 1.0
	}
	return clampScore(sum / weight)
}

// timingTotals sums inter-segment silence gaps and speech overlaps.
func timingTotals(ordered []database.TranscriptSegment) (silence, overlap float64) {
	for i := 1; i < len(ordered); i++ {
		gap := ordered[i].StartTime - ordered[i-1].EndTime
		if gap > 0 {
			silence += gap
		} else if gap < 0 {
			overlap += -gap
		}
	}
	return silence, overlap
}

func (e *Evaluator) complianceFlags(callID string, ordered []database.TranscriptSegment) []database.ComplianceFlag {
	var flags []database.ComplianceFlag

	add := func(flagType, description string, severity database.Severity, at *float64) {
		flags = append(flags, database.ComplianceFlag{
			ID:          uuid.New().String(),
			CallID:      callID,
			FlagType:    flagType,
			Description: description,
			Severity:    severity,
			Timestamp:   at,
		})
		metrics.RecordComplianceFlag(flagType)
	}

	// Long pauses between utterances
	pauseThreshold := e.config.LongPauseThreshold.Seconds()
	for i := 1; i < len(ordered); i++ {
		gap := ordered[i].StartTime - ordered[i-1].EndTime
		if gap >= pauseThreshold {
			at := ordered[i-1].EndTime
			add("long_pause",
				fmt.Sprintf("silence of %.1fs between utterances", gap),
				database.SeverityLow, &at)
		}
	}

	// Forbidden phrases anywhere in the transcript
	for _, seg := range ordered {
		lower := strings.ToLower(seg.Text)
		for _, phrase := range e.config.ForbiddenPhrases {
			if strings.Contains(lower, strings.ToLower(phrase)) {
				at := seg.StartTime
				add("policy_violation",
					fmt.Sprintf("forbidden phrase %q spoken by %s", phrase, seg.Speaker),
					database.SeverityHigh, &at)
			}
		}
	}

	// Missing scripted greeting
	if e.config.ScriptEnabled && e.config.ScriptGreeting != "" {
		if !agentSpoke(ordered, e.config.ScriptGreeting, 3) {
			add("script_deviation",
				fmt.Sprintf("agent did not open with %q", e.config.ScriptGreeting),
				database.SeverityMedium, nil)
		}
	}

	return flags
}

// agentSpoke reports whether the phrase appears in the agent's first n
// utterances.
func agentSpoke(ordered []database.TranscriptSegment, phrase string, n int) bool {
	phrase = strings.ToLower(phrase)
	seen := 0
	for _, seg := range ordered {
		if seg.Speaker != database.RoleAgent {
			continue
		}
		if strings.Contains(strings.ToLower(seg.Text), phrase) {
			return true
		}
		seen++
		if seen >= n {
			break
		}
	}
	return false
}

func (e *Evaluator) politenessScore(segments []database.TranscriptSegment) float64 {
	return markerScore(segments, database.RoleAgent, []string{
		"please", "thank", "welcome", "sorry", "appreciate", "may i",
	})
}

func (e *Evaluator) empathyScore(segments []database.TranscriptSegment) float64 {
	return markerScore(segments, database.RoleAgent, []string{
		"understand", "i see", "apologize", "sorry to hear", "i know how", "of course",
	})
}

func (e *Evaluator) resolutionScore(segments []database.TranscriptSegment) float64 {
	return markerScore(segments, database.RoleAgent, []string{
		"resolved", "fixed", "refund", "issue a", "taken care of", "anything else",
	})
}

// clarityScore rewards utterances of moderate length; very short or rambling
// turns read as unclear.
func (e *Evaluator) clarityScore(segments []database.TranscriptSegment) float64 {
	agentTurns := 0
	totalWords := 0
	for _, seg := range segments {
		if seg.Speaker != database.RoleAgent {
			continue
		}
		agentTurns++
		totalWords += len(strings.Fields(seg.Text))
	}
	if agentTurns == 0 {
		return 50
	}

	avg := float64(totalWords) / float64(agentTurns)
	switch {
	case avg >= 5 && avg <= 25:
		return 90
	case avg < 5:
		return 50 + avg*8
	default:
		penalty := (avg - 25) * 2
		return 90 - penalty
	}
}

// scriptAdherenceScore checks the scripted greeting and closing; half credit
// for either alone.
func (e *Evaluator) scriptAdherenceScore(segments []database.TranscriptSegment) float64 {
	score := 0.0
	if e.config.ScriptGreeting != "" && agentSpoke(segments, e.config.ScriptGreeting, 3) {
		score += 50
	}
	if e.config.ScriptClosing != "" && agentSpokeAnywhere(segments, e.config.ScriptClosing) {
		score += 50
	}
	return score
}

func agentSpokeAnywhere(segments []database.TranscriptSegment, phrase string) bool {
	phrase = strings.ToLower(phrase)
	for _, seg := range segments {
		if seg.Speaker == database.RoleAgent && strings.Contains(strings.ToLower(seg.Text), phrase) {
			return true
		}
	}
	return false
}

// markerScore grades a role's speech by the fraction of its turns containing
// at least one marker phrase. A call with no turns for the role scores the
// neutral midpoint.
func markerScore(segments []database.TranscriptSegment, role database.SpeakerRole, markers []string) float64 {
	turns := 0
	hits := 0
	for _, seg := range segments {
		if seg.Speaker != role {
			continue
		}
		turns++
		lower := strings.ToLower(seg.Text)
		for _, m := range markers {
			if strings.Contains(lower, m) {
				hits++
				break
			}
		}
	}
	if turns == 0 {
		return 50
	}
	return 40 + 60*float64(hits)/float64(turns)
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
