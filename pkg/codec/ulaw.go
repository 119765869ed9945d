// Package codec converts between G.711 μ-law telephony samples and 16-bit
// linear PCM. The system runs one fixed profile: 8 kHz, mono, one μ-law byte
// per sample.
package codec

import "encoding/binary"

const (
	// SampleRate is the telephony sample rate in Hz.
	SampleRate = 8000
	// BytesPerSample is the width of one linear PCM sample.
	BytesPerSample = 2

	ulawBias = 0x84
	ulawClip = 32635
)

var ulawDecodeTable = [256]int16{
	-32124, -31100, -30076, -29052, -28028, -27004, -25980, -24956,
	-23932, -22908, -21884, -20860, -19836, -18812, -17788, -16764,
	-15996, -15484, -14972, -14460, -13948, -13436, -12924, -12412,
	-11900, -11388, -10876, -10364, -9852, -9340, -8828, -8316,
	-7932, -7676, -7420, -7164, -6908, -6652, -6396, -6140,
	-5884, -5628, -5372, -5116, -4860, -4604, -4348, -4092,
	-3900, -3772, -3644, -3516, -3388, -3260, -3132, -3004,
	-2876, -2748, -2620, -2492, -2364, -2236, -2108, -1980,
	-1884, -1820, -1756, -1692, -1628, -1564, -1500, -1436,
	-1372, -1308, -1244, -1180, -1116, -1052, -988, -924,
	-876, -844, -812, -780, -748, -716, -684, -652,
	-620, -588, -556, -524, -492, -460, -428, -396,
	-372, -356, -340, -324, -308, -292, -276, -260,
	-244, -228, -212, -196, -180, -164, -148, -132,
	-120, -112, -104, -96, -88, -80, -72, -64,
	-56, -48, -40, -32, -24, -16, -8, 0,
	32124, 31100, 30076, 29052, 28028, 27004, 25980, 24956,
	23932, 22908, 21884, 20860, 19836, 18812, 17788, 16764,
	15996, 15484, 14972, 14460, 13948, 13436, 12924, 12412,
	11900, 11388, 10876, 10364, 9852, 9340, 8828, 8316,
	7932, 7676, 7420, 7164, 6908, 6652, 6396, 6140,
	5884, 5628, 5372, 5116, 4860, 4604, 4348, 4092,
	3900, 3772, 3644, 3516, 3388, 3260, 3132, 3004,
	2876, 2748, 2620, 2492, 2364, 2236, 2108, 1980,
	1884, 1820, 1756, 1692, 1628, 1564, 1500, 1436,
	1372, 1308, 1244, 1180, 1116, 1052, 988, 924,
	876, 844, 812, 780, 748, 716, 684, 652,
	620, 588, 556, 524, 492, 460, 428, 396,
	372, 356, 340, 324, 308, 292, 276, 260,
	244, 228, 212, 196, 180, 164, 148, 132,
	120, 112, 104, 96, 88, 80, 72, 64,
	56, 48, 40, 32, 24, 16, 8, 0,
}

var segmentMasks = [...]int32{0x4000, 0x2000, 0x1000, 0x800, 0x400, 0x200, 0x100}

// DecodeSample expands one μ-law byte to linear PCM.
func DecodeSample(b byte) int16 {
	return ulawDecodeTable[b]
}

// EncodeSample compands one linear PCM sample to μ-law.
func EncodeSample(s int16) byte {
	sample := int32(s)
	var sign int32
	if sample < 0 {
		sign = 0x80
		sample = -sample
	}
	if sample > ulawClip {
		sample = ulawClip
	}
	sample += ulawBias

	exponent := int32(7)
	for _, mask := range segmentMasks {
		if sample&mask != 0 {
			break
		}
		exponent--
	}
	mantissa := (sample >> (exponent + 3)) & 0x0F
	return byte(^(sign | exponent<<4 | mantissa) & 0xFF)
}

// DecodeSamples expands a μ-law frame into PCM samples.
func DecodeSamples(frame []byte) []int16 {
	out := make([]int16, len(frame))
	for i, b := range frame {
		out[i] = ulawDecodeTable[b]
	}
	return out
}

// Decode expands a μ-law frame into little-endian PCM16 bytes. The result is
// twice the length of the input.
func Decode(frame []byte) []byte {
	out := make([]byte, len(frame)*BytesPerSample)
	for i, b := range frame {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(ulawDecodeTable[b]))
	}
	return out
}

// EncodeSamples compands PCM samples; n samples always yield n bytes.
func EncodeSamples(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = EncodeSample(s)
	}
	return out
}

// Encode compands little-endian PCM16 bytes.
func Encode(pcm []byte) ([]byte, error) {
	samples, err := PCMToSamples(pcm)
	if err != nil {
		return nil, err
	}
	return EncodeSamples(samples), nil
}

// PCMToSamples reinterprets little-endian PCM16 bytes as samples.
func PCMToSamples(pcm []byte) ([]int16, error) {
	if len(pcm)%BytesPerSample != 0 {
		return nil, &DecodeError{Kind: KindOddLength}
	}
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
	}
	return out, nil
}

// SamplesToPCM serializes samples as little-endian PCM16 bytes.
func SamplesToPCM(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s))
	}
	return out
}

// DurationMS is the playback length of n samples, rounded down.
func DurationMS(samples int) int64 {
	return int64(samples) * 1000 / SampleRate
}

// SampleOffset converts a millisecond timestamp into a sample index.
func SampleOffset(ms int64) int64 {
	return ms * SampleRate / 1000
}
