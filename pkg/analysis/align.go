package analysis

import (
	"callinsight-server/pkg/database"
	"callinsight-server/pkg/diarize"
	"callinsight-server/pkg/stt"
)

// AlignedSegment is a transcript segment attributed to a speaker role.
type AlignedSegment struct {
	Start float64
	End   float64
	Text  string
	Role  database.SpeakerRole
}

// Align attributes each transcript segment to a speaker by temporal midpoint:
// the first speaker interval whose [start, end) range contains the segment's
// midpoint wins. Segments whose midpoint falls outside every interval are
// attributed to Unknown. The function is total and order-preserving: the
// output has exactly one entry per input segment, in input order.
func Align(segments []stt.Segment, intervals []diarize.SpeakerInterval) []AlignedSegment {
	aligned := make([]AlignedSegment, 0, len(segments))

	for _, seg := range segments {
		mid := (seg.Start + seg.End) / 2

		role := database.RoleUnknown
		for _, iv := range intervals {
			if mid >= iv.Start && mid < iv.End {
				role = iv.Role
				break
			}
		}

		aligned = append(aligned, AlignedSegment{
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
			Role:  role,
		})
	}

	return aligned
}
