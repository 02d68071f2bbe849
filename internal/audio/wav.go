// Package audio holds helpers for the telephony PCM16 mono stream.
package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// DefaultSampleRate is the caller audio rate the pipeline expects. Narrowband
// telephony bridges send 8 kHz instead.
const (
	DefaultSampleRate    = 16000
	NarrowbandSampleRate = 8000
)

const wavHeaderSize = 44

// SupportedSampleRate reports whether the pipeline accepts caller audio at
// rate.
func SupportedSampleRate(rate int) bool {
	return rate == DefaultSampleRate || rate == NarrowbandSampleRate
}

// PCM16Duration is the playback length of a PCM16LE mono buffer.
func PCM16Duration(numBytes, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return time.Duration(numBytes/2) * time.Second / time.Duration(sampleRate)
}

// EncodeWAV prefixes PCM16LE mono audio with a canonical 44-byte RIFF header,
// the upload format whisper-style servers take. A trailing odd byte is
// dropped so the data chunk holds whole samples.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	if uint64(len(pcm)) > uint64(^uint32(0))-wavHeaderSize {
		return nil, fmt.Errorf("pcm too large for wav: %d bytes", len(pcm))
	}

	out := make([]byte, wavHeaderSize+len(pcm))
	le := binary.LittleEndian
	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], uint32(wavHeaderSize-8+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], 16)                   // fmt chunk size
	le.PutUint16(out[20:22], 1)                    // PCM
	le.PutUint16(out[22:24], 1)                    // mono
	le.PutUint32(out[24:28], uint32(sampleRate))   // sample rate
	le.PutUint32(out[28:32], uint32(sampleRate*2)) // byte rate
	le.PutUint16(out[32:34], 2)                    // block align
	le.PutUint16(out[34:36], 16)                   // bits per sample
	copy(out[36:40], "data")
	le.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[wavHeaderSize:], pcm)
	return out, nil
}
