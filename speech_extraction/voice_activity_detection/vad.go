// Package voice_activity_detection measures how much speech-band energy a
// frame of 16-bit PCM carries.
package voice_activity_detection

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

const (
	voiceBandLow  = 300.0
	voiceBandHigh = 3400.0
)

type VAD struct {
	frameSize int
	lowBin    int
	highBin   int
	samples   []float64
}

func New(frameSize, sampleRate int) *VAD {
	binWidth := float64(sampleRate) / float64(frameSize)

	lowBin := int(math.Ceil(voiceBandLow / binWidth))
	if lowBin < 1 {
		lowBin = 1
	}

	highBin := int(math.Floor(voiceBandHigh / binWidth))
	if highBin > frameSize/2 {
		highBin = frameSize / 2
	}

	return &VAD{
		frameSize: frameSize,
		lowBin:    lowBin,
		highBin:   highBin,
		samples:   make([]float64, frameSize),
	}
}

// Energy returns the RMS amplitude of the voice band (300-3400 Hz) of samples,
// in the same units as the samples. Short frames are zero padded.
func (v *VAD) Energy(samples []int16) float64 {
	for i := range v.samples {
		if i < len(samples) {
			v.samples[i] = float64(samples[i])
		} else {
			v.samples[i] = 0
		}
	}

	spectrum := fft.FFTReal(v.samples)

	var power float64
	for k := v.lowBin; k <= v.highBin; k++ {
		magnitude := cmplx.Abs(spectrum[k])
		power += magnitude * magnitude
	}

	// one-sided spectrum, Parseval scaling back to the time domain
	n := float64(v.frameSize)

	return math.Sqrt(2 * power / (n * n))
}
