package audio

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-audio/wav"
)

func TestEncodeWAVRoundTrip(t *testing.T) {
	pcm := make([]byte, 0, 64)
	for i := 0; i < 32; i++ {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(int16(i*100-1600)))
		pcm = append(pcm, b[:]...)
	}

	data, err := EncodeWAV(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Fatalf("expected RIFF header, got %q", data[:4])
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	if got := len(buf.Data); got != 32 {
		t.Fatalf("expected 32 samples, got %d", got)
	}
	if dec.SampleRate != 16000 {
		t.Fatalf("expected 16kHz, got %d", dec.SampleRate)
	}
}

func TestEncodeWAVTrimsOddByte(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03}
	data, err := EncodeWAV(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	if len(buf.Data) != 1 {
		t.Fatalf("expected odd trailing byte dropped, got %d samples", len(buf.Data))
	}
}

func TestEncodeWAVEmpty(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000, 1); err == nil {
		t.Fatal("expected error for empty pcm")
	}
}

func TestCombine(t *testing.T) {
	out := Combine([][]byte{{1, 2}, nil, {3}})
	if !bytes.Equal(out, []byte{1, 2, 3}) {
		t.Fatalf("unexpected combine result: %v", out)
	}
}
