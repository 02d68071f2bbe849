package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

func TestEncodeWAVHeader(t *testing.T) {
	pcm := make([]byte, 3200)
	wav, err := EncodeWAV(pcm, 0)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if !bytes.Equal(wav[0:4], []byte("RIFF")) || !bytes.Equal(wav[8:12], []byte("WAVE")) || !bytes.Equal(wav[36:40], []byte("data")) {
		t.Fatalf("unexpected header: %q", wav[:44])
	}
	if riff := binary.LittleEndian.Uint32(wav[4:8]); riff != uint32(36+len(pcm)) {
		t.Fatalf("riff size = %d, want %d", riff, 36+len(pcm))
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != DefaultSampleRate {
		t.Fatalf("sample rate = %d, want %d", rate, DefaultSampleRate)
	}
	if byteRate := binary.LittleEndian.Uint32(wav[28:32]); byteRate != 2*DefaultSampleRate {
		t.Fatalf("byte rate = %d, want %d", byteRate, 2*DefaultSampleRate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); size != uint32(len(pcm)) {
		t.Fatalf("data size = %d, want %d", size, len(pcm))
	}
}

func TestEncodeWAVDropsOddTrailingByte(t *testing.T) {
	wav, err := EncodeWAV([]byte{1, 2, 3}, NarrowbandSampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if len(wav) != 46 {
		t.Fatalf("len = %d, want 46", len(wav))
	}
	if !bytes.Equal(wav[44:], []byte{1, 2}) {
		t.Fatalf("data = %v, want [1 2]", wav[44:])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != NarrowbandSampleRate {
		t.Fatalf("sample rate = %d, want %d", rate, NarrowbandSampleRate)
	}
}

func TestPCM16Duration(t *testing.T) {
	if got := PCM16Duration(32000, 16000); got != time.Second {
		t.Fatalf("PCM16Duration(32000, 16000) = %v, want 1s", got)
	}
	if got := PCM16Duration(1600, 8000); got != 100*time.Millisecond {
		t.Fatalf("PCM16Duration(1600, 8000) = %v, want 100ms", got)
	}
}

func TestSupportedSampleRate(t *testing.T) {
	for rate, want := range map[int]bool{8000: true, 16000: true, 44100: false, 0: false} {
		if got := SupportedSampleRate(rate); got != want {
			t.Fatalf("SupportedSampleRate(%d) = %v, want %v", rate, got, want)
		}
	}
}
