package speech_to_text

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/go-audio/audio"
	"github.com/zenwerk/go-wave"
)

// Int16Samples clamps buf to 16-bit samples.
func Int16Samples(buf *audio.IntBuffer) []int16 {
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		switch {
		case v > math.MaxInt16:
			samples[i] = math.MaxInt16
		case v < math.MinInt16:
			samples[i] = math.MinInt16
		default:
			samples[i] = int16(v)
		}
	}
	return samples
}

// LinearPCM encodes buf as little-endian 16-bit PCM.
func LinearPCM(buf *audio.IntBuffer) []byte {
	samples := Int16Samples(buf)

	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}

	return out
}

// Float32Samples normalizes buf to [-1, 1].
func Float32Samples(buf *audio.IntBuffer) []float32 {
	samples := make([]float32, len(buf.Data))
	for i, s := range Int16Samples(buf) {
		samples[i] = float32(s) / 32768
	}
	return samples
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// EncodeWAV renders buf as a complete mono 16-bit WAV file.
func EncodeWAV(buf *audio.IntBuffer) ([]byte, error) {
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("audio buffer has no sample rate")
	}

	var out bytes.Buffer

	waveWriter, err := wave.NewWriter(wave.WriterParam{
		Out:           nopCloser{&out},
		Channel:       1,
		SampleRate:    buf.Format.SampleRate,
		BitsPerSample: 16,
	})
	if err != nil {
		return nil, err
	}

	if _, err := waveWriter.WriteSample16(Int16Samples(buf)); err != nil {
		return nil, err
	}

	if err := waveWriter.Close(); err != nil {
		return nil, err
	}

	return out.Bytes(), nil
}

// PrimaryLanguage returns the language subtag of a locale such as "kn-IN".
func PrimaryLanguage(tag string) string {
	tag = strings.ReplaceAll(tag, "_", "-")
	if i := strings.IndexByte(tag, '-'); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
