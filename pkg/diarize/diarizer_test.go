package diarize

import (
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callinsight-server/pkg/audio"
	"callinsight-server/pkg/config"
	"callinsight-server/pkg/database"
)

func testConfig() config.DiarizationConfig {
	return config.DiarizationConfig{
		ExpectedSpeakers:    2,
		MinSilence:          500 * time.Millisecond,
		SilenceThresholdDB:  -40,
		SilencePadding:      200 * time.Millisecond,
		SpeakerToggleMinLen: 2 * time.Second,
		FallbackDuration:    60 * time.Second,
	}
}

func testDiarizer() *Diarizer {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewDiarizer(logger, testConfig())
}

// synthesize builds a WAV payload from (durationSeconds, loud) spans.
func synthesize(sampleRate int, spans ...[2]float64) []byte {
	var samples []float64
	for _, span := range spans {
		n := int(span[0] * float64(sampleRate))
		for i := 0; i < n; i++ {
			if span[1] > 0 {
				samples = append(samples, span[1]*math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
			} else {
				samples = append(samples, 0)
			}
		}
	}
	return audio.EncodeWAV(sampleRate, samples)
}

func assertInvariants(t *testing.T, intervals []SpeakerInterval) {
	t.Helper()
	require.NotEmpty(t, intervals)
	for i, iv := range intervals {
		assert.Less(t, iv.Start, iv.End, "interval %d must have positive length", i)
		assert.Contains(t, []database.SpeakerRole{database.RoleAgent, database.RoleCustomer}, iv.Role)
		if i > 0 {
			assert.GreaterOrEqual(t, iv.Start, intervals[i-1].End, "intervals must not overlap")
		}
	}
}

func TestDiarizeUndecodableAudioFallsBack(t *testing.T) {
	intervals := testDiarizer().Diarize([]byte("not a wav file"))

	require.Len(t, intervals, 1)
	assert.Equal(t, 0.0, intervals[0].Start)
	assert.Equal(t, 60.0, intervals[0].End)
	assert.Equal(t, database.RoleAgent, intervals[0].Role)
}

func TestDiarizeSilentAudioFallsBack(t *testing.T) {
	data := synthesize(8000, [2]float64{5, 0})

	intervals := testDiarizer().Diarize(data)

	require.Len(t, intervals, 1)
	assert.Equal(t, database.RoleAgent, intervals[0].Role)
}

func TestDiarizeSingleSpeechChunk(t *testing.T) {
	data := synthesize(8000, [2]float64{3, 0.5})

	intervals := testDiarizer().Diarize(data)

	assertInvariants(t, intervals)
	require.Len(t, intervals, 1)
	assert.Equal(t, database.RoleAgent, intervals[0].Role)
}

func TestDiarizeAlternatesRolesAcrossLongTurns(t *testing.T) {
	// Three turns of speech separated by clear silences, each long enough
	// to flip the speaker
	data := synthesize(8000,
		[2]float64{3, 0.5},
		[2]float64{1, 0},
		[2]float64{3, 0.5},
		[2]float64{1, 0},
		[2]float64{3, 0.5},
	)

	intervals := testDiarizer().Diarize(data)

	assertInvariants(t, intervals)
	require.Len(t, intervals, 3)
	assert.Equal(t, database.RoleAgent, intervals[0].Role)
	assert.Equal(t, database.RoleCustomer, intervals[1].Role)
	assert.Equal(t, database.RoleAgent, intervals[2].Role)
}

func TestDiarizeSingleExpectedSpeakerNeverToggles(t *testing.T) {
	cfg := testConfig()
	cfg.ExpectedSpeakers = 1
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	d := NewDiarizer(logger, cfg)

	data := synthesize(8000,
		[2]float64{3, 0.5},
		[2]float64{1, 0},
		[2]float64{3, 0.5},
		[2]float64{1, 0},
		[2]float64{3, 0.5},
	)

	intervals := d.Diarize(data)

	assertInvariants(t, intervals)
	require.Len(t, intervals, 3)
	for i, iv := range intervals {
		assert.Equal(t, database.RoleAgent, iv.Role, "interval %d", i)
	}
}

func TestDiarizeShortTurnKeepsSpeaker(t *testing.T) {
	// A brief interjection under the toggle threshold must not flip the role
	data := synthesize(8000,
		[2]float64{1, 0.5}, // short agent chunk, no flip
		[2]float64{1, 0},
		[2]float64{3, 0.5}, // still agent, long enough to flip
		[2]float64{1, 0},
		[2]float64{3, 0.5}, // customer
	)

	intervals := testDiarizer().Diarize(data)

	assertInvariants(t, intervals)
	require.Len(t, intervals, 3)
	assert.Equal(t, database.RoleAgent, intervals[0].Role)
	assert.Equal(t, database.RoleAgent, intervals[1].Role)
	assert.Equal(t, database.RoleCustomer, intervals[2].Role)
}

func TestDiarizeShortSilenceDoesNotSplit(t *testing.T) {
	// A 300ms dip is below the 500ms minimum silence and must not split
	// the chunk
	data := synthesize(8000,
		[2]float64{2, 0.5},
		[2]float64{0.3, 0},
		[2]float64{2, 0.5},
	)

	intervals := testDiarizer().Diarize(data)

	assertInvariants(t, intervals)
	require.Len(t, intervals, 1)
	assert.Equal(t, database.RoleAgent, intervals[0].Role)
}

func TestLabelNormalizerKnownLabels(t *testing.T) {
	n := NewLabelNormalizer()
	assert.Equal(t, database.RoleAgent, n.Normalize("SPEAKER_00"))
	assert.Equal(t, database.RoleAgent, n.Normalize("agent"))
	assert.Equal(t, database.RoleCustomer, n.Normalize("SPEAKER_01"))
	assert.Equal(t, database.RoleCustomer, n.Normalize(" customer "))
}

func TestLabelNormalizerUnrecognizedLabels(t *testing.T) {
	n := NewLabelNormalizer()

	// First distinct unrecognized label becomes Agent, second Customer,
	// any further labels stay Unknown
	assert.Equal(t, database.RoleAgent, n.Normalize("spk-a"))
	assert.Equal(t, database.RoleCustomer, n.Normalize("spk-b"))
	assert.Equal(t, database.RoleUnknown, n.Normalize("spk-c"))

	// Resolution is stable across repeat lookups
	assert.Equal(t, database.RoleAgent, n.Normalize("spk-a"))
	assert.Equal(t, database.RoleCustomer, n.Normalize("spk-b"))
}
