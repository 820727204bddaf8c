package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// PCM holds decoded 16-bit PCM audio normalized to mono float samples.
type PCM struct {
	SampleRate int
	Samples    []float64 // normalized to [-1.0, 1.0]
}

// Duration returns the playback length of the decoded audio.
func (p *PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	seconds := float64(len(p.Samples)) / float64(p.SampleRate)
	return time.Duration(seconds * float64(time.Second))
}

// DecodeWAV parses a RIFF/WAVE container holding 16-bit PCM audio. Multi
// channel audio is mixed down to mono.
func DecodeWAV(data []byte) (*PCM, error) {
	if len(data) < 44 {
		return nil, fmt.Errorf("wav data too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE container")
	}

	var (
		sampleRate    int
		channels      int
		bitsPerSample int
		pcmData       []byte
	)

	// Walk the chunk list; fmt normally precedes data but some encoders
	// insert extra chunks between them.
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		if body+chunkSize > len(data) {
			chunkSize = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, fmt.Errorf("malformed fmt chunk: %d bytes", chunkSize)
			}
			audioFormat := int(binary.LittleEndian.Uint16(data[body : body+2]))
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			if audioFormat != 1 {
				return nil, fmt.Errorf("unsupported wav encoding %d, only PCM is supported", audioFormat)
			}
		case "data":
			pcmData = data[body : body+chunkSize]
		}

		// Chunks are word aligned
		offset = body + chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if sampleRate == 0 || channels == 0 {
		return nil, fmt.Errorf("missing fmt chunk")
	}
	if bitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d, only 16-bit PCM is supported", bitsPerSample)
	}
	if len(pcmData) == 0 {
		return nil, fmt.Errorf("missing data chunk")
	}

	frameCount := len(pcmData) / (2 * channels)
	samples := make([]float64, frameCount)
	for i := 0; i < frameCount; i++ {
		var mixed float64
		for c := 0; c < channels; c++ {
			idx := (i*channels + c) * 2
			sample := int16(binary.LittleEndian.Uint16(pcmData[idx : idx+2]))
			mixed += float64(sample) / 32768.0
		}
		samples[i] = mixed / float64(channels)
	}

	return &PCM{
		SampleRate: sampleRate,
		Samples:    samples,
	}, nil
}

// ProbeDuration returns the audio duration of a WAV payload, or 0 when the
// payload cannot be decoded. Callers treat 0 as unknown.
func ProbeDuration(data []byte) time.Duration {
	pcm, err := DecodeWAV(data)
	if err != nil {
		return 0
	}
	return pcm.Duration()
}

// EncodeWAV builds a 16-bit mono PCM RIFF/WAVE payload from normalized
// samples. Used by tests and the mock provider to synthesize audio.
func EncodeWAV(sampleRate int, samples []float64) []byte {
	dataSize := len(samples) * 2
	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)                   // bits per sample

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	for i, s := range samples {
		clamped := math.Max(-1.0, math.Min(1.0, s))
		binary.LittleEndian.PutUint16(buf[44+i*2:46+i*2], uint16(int16(clamped*32767)))
	}

	return buf
}
