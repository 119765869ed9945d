package codec

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/zaf/g711"
)

// quantStep is the width of the μ-law segment the encoded byte falls into.
func quantStep(b byte) int {
	exponent := int((^b >> 4) & 0x07)
	return 1 << (exponent + 3)
}

func TestRoundTripWithinOneStep(t *testing.T) {
	for x := math.MinInt16; x <= math.MaxInt16; x++ {
		enc := EncodeSample(int16(x))
		dec := int(DecodeSample(enc))
		// clipped magnitudes land on the top code, allow the clip distance too
		want := x
		if want > ulawClip {
			want = ulawClip
		}
		if want < -ulawClip {
			want = -ulawClip
		}
		if diff := abs(dec - want); diff > quantStep(enc) {
			t.Fatalf("sample %d: decoded %d (byte %#x), diff %d exceeds step %d", x, dec, enc, diff, quantStep(enc))
		}
	}
}

func TestEncodeKnownValues(t *testing.T) {
	cases := []struct {
		in   int16
		want byte
	}{
		{0, 0xFF},
		{-1, 0x7F},
		{32767, 0x80},
		{-32768, 0x00},
		{7, 0xFE},
		{132, 0xEF},
	}
	for _, tc := range cases {
		if got := EncodeSample(tc.in); got != tc.want {
			t.Fatalf("EncodeSample(%d) = %#x, want %#x", tc.in, got, tc.want)
		}
	}
}

func TestEncodeDeterministicAndLength(t *testing.T) {
	samples := []int16{0, 100, -100, 32000, -32000, 5, -5}
	a := EncodeSamples(samples)
	b := EncodeSamples(samples)
	if len(a) != len(samples) {
		t.Fatalf("expected %d bytes, got %d", len(samples), len(a))
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("encode not deterministic")
	}
	if got := EncodeSamples(nil); len(got) != 0 {
		t.Fatalf("expected empty output for empty input")
	}
}

func TestDecodeTableSymmetric(t *testing.T) {
	for i := 0; i < 128; i++ {
		neg := DecodeSample(byte(i))
		pos := DecodeSample(byte(i + 128))
		if neg != -pos {
			t.Fatalf("byte %d: %d is not the mirror of %d", i, neg, pos)
		}
	}
	if DecodeSample(0x00) != -32124 || DecodeSample(0x80) != 32124 {
		t.Fatalf("unexpected table extremes")
	}
}

func TestDecodeProducesLittleEndianPCM(t *testing.T) {
	frame := []byte{0x00, 0xFF, 0x80}
	pcm := Decode(frame)
	if len(pcm) != 2*len(frame) {
		t.Fatalf("expected %d bytes, got %d", 2*len(frame), len(pcm))
	}
	samples, err := PCMToSamples(pcm)
	if err != nil {
		t.Fatalf("PCMToSamples: %v", err)
	}
	want := []int16{-32124, 0, 32124}
	for i := range want {
		if samples[i] != want[i] {
			t.Fatalf("sample %d = %d, want %d", i, samples[i], want[i])
		}
	}
}

func TestEncodeRejectsOddLength(t *testing.T) {
	_, err := Encode([]byte{1, 2, 3})
	var de *DecodeError
	if !errors.As(err, &de) || de.Kind != KindOddLength {
		t.Fatalf("expected odd_length decode error, got %v", err)
	}
}

func TestDecodeBase64Boundary(t *testing.T) {
	for _, payload := range []string{"", "===="} {
		samples, err := DecodeBase64PCM(payload)
		if payload == "" && (err != nil || len(samples) != 0) {
			t.Fatalf("empty payload must decode to an empty chunk, got %v %v", samples, err)
		}
		if payload != "" {
			var de *DecodeError
			if !errors.As(err, &de) || de.Kind != KindInvalidBase64 {
				t.Fatalf("%q: expected invalid_base64, got %v", payload, err)
			}
		}
	}
	samples, err := DecodeBase64PCM(EncodeBase64([]byte{0xFF, 0x00}))
	if err != nil || len(samples) != 2 || samples[0] != 0 || samples[1] != -32124 {
		t.Fatalf("unexpected decode %v %v", samples, err)
	}
}

func TestInteropWithReferenceDecoder(t *testing.T) {
	for x := math.MinInt16; x <= math.MaxInt16; x += 7 {
		enc := EncodeSample(int16(x))
		ref := int(g711.DecodeUlawFrame(enc))
		ours := int(DecodeSample(enc))
		if diff := abs(ref - ours); diff > quantStep(enc) {
			t.Fatalf("byte %#x: reference %d vs ours %d", enc, ref, ours)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
