package analysis

import (
	"callinsight-server/pkg/database"
)

// BucketCounts counts segments by sentiment polarity bucket.
type BucketCounts struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

// CallSentiment summarizes sentiment across a whole call.
type CallSentiment struct {
	Mean    float64            `json:"mean"`
	Label   database.Sentiment `json:"label"`
	Buckets BucketCounts       `json:"buckets"`
}

// SpeakerSentiment summarizes sentiment for one speaker role.
type SpeakerSentiment struct {
	Count   int                `json:"count"`
	Mean    float64            `json:"mean"`
	Label   database.Sentiment `json:"label"`
	Buckets BucketCounts       `json:"buckets"`
}

// bucketLabel classifies a signed intensity against the threshold. The
// comparison is strict, so a mean sitting exactly on the threshold is neutral.
func bucketLabel(score, threshold float64) database.Sentiment {
	switch {
	case score > threshold:
		return database.SentimentPositive
	case score < -threshold:
		return database.SentimentNegative
	default:
		return database.SentimentNeutral
	}
}

// AggregateCall computes the call-level sentiment: the arithmetic mean of all
// segment intensities, its three-way label, and per-bucket segment counts
// using the same threshold. An empty call is neutral.
func AggregateCall(segments []database.TranscriptSegment, threshold float64) CallSentiment {
	result := CallSentiment{Label: database.SentimentNeutral}
	if len(segments) == 0 {
		return result
	}

	var sum float64
	for _, seg := range segments {
		sum += seg.SentimentScore
		switch bucketLabel(seg.SentimentScore, threshold) {
		case database.SentimentPositive:
			result.Buckets.Positive++
		case database.SentimentNegative:
			result.Buckets.Negative++
		default:
			result.Buckets.Neutral++
		}
	}

	result.Mean = sum / float64(len(segments))
	result.Label = bucketLabel(result.Mean, threshold)
	return result
}

// AggregateBySpeaker groups segments by speaker role and applies the same
// averaging and bucketing per role. Unattributed segments land in the
// Unknown bucket.
func AggregateBySpeaker(segments []database.TranscriptSegment, threshold float64) map[database.SpeakerRole]SpeakerSentiment {
	sums := make(map[database.SpeakerRole]float64)
	perRole := make(map[database.SpeakerRole]SpeakerSentiment)

	for _, seg := range segments {
		role := seg.Speaker
		if role == "" {
			role = database.RoleUnknown
		}

		agg := perRole[role]
		agg.Count++
		switch bucketLabel(seg.SentimentScore, threshold) {
		case database.SentimentPositive:
			agg.Buckets.Positive++
		case database.SentimentNegative:
			agg.Buckets.Negative++
		default:
			agg.Buckets.Neutral++
		}
		perRole[role] = agg
		sums[role] += seg.SentimentScore
	}

	for role, agg := range perRole {
		agg.Mean = sums[role] / float64(agg.Count)
		agg.Label = bucketLabel(agg.Mean, threshold)
		perRole[role] = agg
	}

	return perRole
}
