package diarize

import (
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/audio"
	"callinsight-server/pkg/config"
	"callinsight-server/pkg/database"
)

// frameLength is the analysis window for energy measurement.
const frameLength = 20 * time.Millisecond

// SpeakerInterval attributes a time span of the recording to a speaker role.
type SpeakerInterval struct {
	Start float64              `json:"start"` // seconds
	End   float64              `json:"end"`
	Role  database.SpeakerRole `json:"role"`
}

// Diarizer segments a recording into speaker turns using an energy-based
// heuristic: silence gaps split the audio into speech chunks, and roles
// alternate between chunks long enough to be a real turn. It never fails;
// undecodable audio yields a single fallback interval.
type Diarizer struct {
	logger *logrus.Entry
	config config.DiarizationConfig
}

// NewDiarizer creates a diarizer with the given tuning constants.
func NewDiarizer(logger *logrus.Logger, cfg config.DiarizationConfig) *Diarizer {
	return &Diarizer{
		logger: logger.WithField("component", "diarizer"),
		config: cfg,
	}
}

// Diarize splits the recording into ordered, non-overlapping speaker
// intervals. The first speaker is always labeled Agent.
func (d *Diarizer) Diarize(data []byte) []SpeakerInterval {
	pcm, err := audio.DecodeWAV(data)
	if err != nil || len(pcm.Samples) == 0 {
		d.logger.WithError(err).Warn("Audio not analyzable, emitting fallback speaker interval")
		return d.fallback()
	}

	chunks := d.speechChunks(pcm)
	if len(chunks) == 0 {
		d.logger.Debug("No speech chunks detected, emitting fallback speaker interval")
		return d.fallback()
	}

	intervals := d.assignRoles(chunks)

	d.logger.WithFields(logrus.Fields{
		"duration_s": pcm.Duration().Seconds(),
		"intervals":  len(intervals),
	}).Debug("Diarization completed")

	return intervals
}

// LabelNormalizer maps provider-native speaker labels onto the canonical
// {Agent, Customer} pair. The agent is assumed to speak first, so the first
// unrecognized label becomes Agent, the second Customer, and any further
// distinct labels stay Unknown.
type LabelNormalizer struct {
	assigned map[string]database.SpeakerRole
}

// NewLabelNormalizer creates an empty normalizer for one recording.
func NewLabelNormalizer() *LabelNormalizer {
	return &LabelNormalizer{assigned: make(map[string]database.SpeakerRole)}
}

// Normalize resolves one label. Resolution is stable: the same label always
// maps to the same role within a normalizer's lifetime.
func (n *LabelNormalizer) Normalize(label string) database.SpeakerRole {
	key := strings.ToUpper(strings.TrimSpace(label))

	switch key {
	case "SPEAKER_00", "AGENT", "FIRST SPEAKER":
		return database.RoleAgent
	case "SPEAKER_01", "CUSTOMER", "CALLER", "SECOND SPEAKER":
		return database.RoleCustomer
	}

	if role, ok := n.assigned[key]; ok {
		return role
	}

	var role database.SpeakerRole
	switch len(n.assigned) {
	case 0:
		role = database.RoleAgent
	case 1:
		role = database.RoleCustomer
	default:
		role = database.RoleUnknown
	}
	n.assigned[key] = role
	return role
}

func (d *Diarizer) fallback() []SpeakerInterval {
	return []SpeakerInterval{{
		Start: 0,
		End:   d.config.FallbackDuration.Seconds(),
		Role:  database.RoleAgent,
	}}
}

type chunk struct {
	start float64
	end   float64
}

// speechChunks splits the recording at silence runs. A silence run only
// counts as a boundary when it lasts at least MinSilence; shorter dips stay
// inside the surrounding chunk.
func (d *Diarizer) speechChunks(pcm *audio.PCM) []chunk {
	frameSamples := int(float64(pcm.SampleRate) * frameLength.Seconds())
	if frameSamples < 1 {
		frameSamples = 1
	}

	frameCount := len(pcm.Samples) / frameSamples
	if frameCount == 0 {
		return nil
	}

	silent := make([]bool, frameCount)
	for i := 0; i < frameCount; i++ {
		frame := pcm.Samples[i*frameSamples : (i+1)*frameSamples]
		silent[i] = frameDBFS(frame) < d.config.SilenceThresholdDB
	}

	minSilenceFrames := int(math.Ceil(d.config.MinSilence.Seconds() / frameLength.Seconds()))
	if minSilenceFrames < 1 {
		minSilenceFrames = 1
	}

	frameSec := frameLength.Seconds()
	totalSec := pcm.Duration().Seconds()
	padding := d.config.SilencePadding.Seconds()

	var chunks []chunk
	chunkStart := -1
	silenceRun := 0

	flush := func(endFrame int) {
		if chunkStart < 0 {
			return
		}
		start := float64(chunkStart)*frameSec - padding
		end := float64(endFrame)*frameSec + padding
		if start < 0 {
			start = 0
		}
		if end > totalSec {
			end = totalSec
		}
		if end > start {
			chunks = append(chunks, chunk{start: start, end: end})
		}
		chunkStart = -1
	}

	for i := 0; i < frameCount; i++ {
		if silent[i] {
			silenceRun++
			if silenceRun == minSilenceFrames && chunkStart >= 0 {
				flush(i - silenceRun + 1)
			}
			continue
		}
		silenceRun = 0
		if chunkStart < 0 {
			chunkStart = i
		}
	}
	flush(frameCount)

	return mergeOverlaps(chunks)
}

// mergeOverlaps joins chunks whose padded boundaries touch or overlap so the
// output intervals stay non-overlapping.
func mergeOverlaps(chunks []chunk) []chunk {
	if len(chunks) < 2 {
		return chunks
	}

	merged := chunks[:1]
	for _, c := range chunks[1:] {
		last := &merged[len(merged)-1]
		if c.start <= last.end {
			if c.end > last.end {
				last.end = c.end
			}
			continue
		}
		merged = append(merged, c)
	}
	return merged
}

// assignRoles alternates speaker roles across chunks, starting with the
// agent. The role only flips after a chunk long enough to be a real speaker
// turn; brief interjections keep the current speaker. With ExpectedSpeakers
// below 2 every chunk stays with the agent.
func (d *Diarizer) assignRoles(chunks []chunk) []SpeakerInterval {
	toggleMin := d.config.SpeakerToggleMinLen.Seconds()

	intervals := make([]SpeakerInterval, 0, len(chunks))
	current := database.RoleAgent
	for _, c := range chunks {
		intervals = append(intervals, SpeakerInterval{
			Start: c.start,
			End:   c.end,
			Role:  current,
		})
		if d.config.ExpectedSpeakers > 1 && c.end-c.start > toggleMin {
			if current == database.RoleAgent {
				current = database.RoleCustomer
			} else {
				current = database.RoleAgent
			}
		}
	}
	return intervals
}

// frameDBFS measures the RMS energy of a frame relative to full scale.
func frameDBFS(frame []float64) float64 {
	if len(frame) == 0 {
		return math.Inf(-1)
	}

	var sum float64
	for _, s := range frame {
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms)
}
