package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Sample rates fixed by the live conversation protocol: microphone frames go
// up at 16 kHz, assistant audio comes back at 24 kHz, both mono.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
)

// InputMIMEType tags outbound microphone chunks for the realtime endpoint.
func InputMIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", InputSampleRate)
}

// EncodePCM16LE converts mono float32 samples into little-endian signed PCM16
// bytes. Samples outside [-1, 1] are clipped, not wrapped.
func EncodePCM16LE(samples []float32) []byte {
	if len(samples) == 0 {
		return nil
	}
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7fff)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// DecodePCM16LE converts little-endian signed PCM16 bytes back into mono
// float32 samples in [-1, 1). A trailing odd byte is ignored.
func DecodePCM16LE(data []byte) []float32 {
	n := len(data) / 2
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float32(v) / 32768.0
	}
	return out
}

// PCMPeak returns the largest absolute sample value in mono PCM16 data,
// in [0, 1]. Handy for spotting an all-silence dump.
func PCMPeak(data []byte) float32 {
	var peak float32
	for _, s := range DecodePCM16LE(data) {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// PCMDuration returns the playback duration of mono PCM16 data at sampleRate.
func PCMDuration(data []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 || len(data) < 2 {
		return 0
	}
	frames := len(data) / 2
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}
