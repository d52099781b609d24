package speech_extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-audio/audio"

	"mic-line-stt/ring_buffer"
	"mic-line-stt/speech_extraction/voice_activity_detection"
)

const (
	DefaultFrameSize           = 1024
	DefaultEnergyThreshold     = 300
	DefaultPauseThreshold      = time.Millisecond * 800
	DefaultPhraseThreshold     = time.Millisecond * 300
	DefaultNonSpeakingDuration = time.Millisecond * 500
	DefaultPhraseTimeLimit     = time.Second * 15
	DefaultCalibration         = time.Second

	// per-second damping and target ratio of the adaptive energy threshold
	dynamicEnergyDamping = 0.15
	dynamicEnergyRatio   = 1.5
)

// ErrTimeout is returned by Listen when no phrase starts before the timeout.
var ErrTimeout = errors.New("speech_extraction: timed out waiting for a phrase to start")

type voiceImpl struct {
	source     SampleSource
	sampleRate int
	frame      []int16
	frameTime  time.Duration
	vad        *voice_activity_detection.VAD
	logger     *slog.Logger

	energyThreshold     float64
	dynamicEnergy       bool
	pauseThreshold      time.Duration
	phraseThreshold     time.Duration
	nonSpeakingDuration time.Duration
	phraseTimeLimit     time.Duration
}

type Config struct {
	Source    SampleSource
	FrameSize int

	// RequiredSampleRate, when set, is the only rate the recognizer accepts.
	RequiredSampleRate int

	EnergyThreshold float64
	DynamicEnergy   bool

	// PauseThreshold is how much non-speaking audio ends a phrase.
	PauseThreshold time.Duration
	// PhraseThreshold is the shortest speaking audio kept as a phrase.
	PhraseThreshold time.Duration
	// NonSpeakingDuration is how much quiet audio is kept on both sides of a phrase.
	NonSpeakingDuration time.Duration
	// PhraseTimeLimit caps a phrase once it started. Defaults to 15s.
	PhraseTimeLimit time.Duration

	Logger *slog.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Source == nil {
		return nil, fmt.Errorf("source is nil")
	}

	sampleRate := cfg.Source.SampleRate()
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	if cfg.RequiredSampleRate > 0 && sampleRate != cfg.RequiredSampleRate {
		return nil, fmt.Errorf("source delivers %d Hz but the recognizer needs %d Hz", sampleRate, cfg.RequiredSampleRate)
	}

	frameSize := cfg.FrameSize
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}

	v := &voiceImpl{
		source:              cfg.Source,
		sampleRate:          sampleRate,
		frame:               make([]int16, frameSize),
		frameTime:           time.Duration(frameSize) * time.Second / time.Duration(sampleRate),
		vad:                 voice_activity_detection.New(frameSize, sampleRate),
		logger:              cfg.Logger,
		energyThreshold:     cfg.EnergyThreshold,
		dynamicEnergy:       cfg.DynamicEnergy,
		pauseThreshold:      orDefault(cfg.PauseThreshold, DefaultPauseThreshold),
		phraseThreshold:     orDefault(cfg.PhraseThreshold, DefaultPhraseThreshold),
		nonSpeakingDuration: orDefault(cfg.NonSpeakingDuration, DefaultNonSpeakingDuration),
		phraseTimeLimit:     orDefault(cfg.PhraseTimeLimit, DefaultPhraseTimeLimit),
	}

	if v.energyThreshold <= 0 {
		v.energyThreshold = DefaultEnergyThreshold
	}

	if v.logger == nil {
		v.logger = slog.Default()
	}

	return v, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Calibrate adapts the energy threshold to the ambient noise heard during duration.
func (v *voiceImpl) Calibrate(ctx context.Context, duration time.Duration) error {
	duration = orDefault(duration, DefaultCalibration)

	var elapsed time.Duration
	for elapsed < duration {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := v.readFrame(); err != nil {
			return fmt.Errorf("reading ambient audio: %w", err)
		}

		elapsed += v.frameTime
		v.adjustThreshold(v.vad.Energy(v.frame))
	}

	v.logger.Info("calibrated for ambient noise",
		slog.Float64("energy_threshold", v.energyThreshold),
		slog.Duration("duration", elapsed),
	)

	return nil
}

// Listen waits up to timeout for a phrase to start and records it until a
// pause, returning the phrase with some surrounding quiet audio.
func (v *voiceImpl) Listen(ctx context.Context, timeout time.Duration) (*audio.IntBuffer, error) {
	pauseFrames := v.framesIn(v.pauseThreshold)
	phraseFrames := v.framesIn(v.phraseThreshold)
	nonSpeakingFrames := v.framesIn(v.nonSpeakingDuration)

	preRoll := ring_buffer.New(nonSpeakingFrames * len(v.frame))

	var elapsed time.Duration

	for {
		preRoll.Clear()

		// wait for a frame loud enough to start a phrase
		for {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			elapsed += v.frameTime
			if timeout > 0 && elapsed > timeout {
				return nil, ErrTimeout
			}

			if err := v.readFrame(); err != nil {
				return nil, fmt.Errorf("reading audio: %w", err)
			}

			preRoll.Add(v.frame)

			energy := v.vad.Energy(v.frame)
			if energy > v.energyThreshold {
				break
			}

			if v.dynamicEnergy {
				v.adjustThreshold(energy)
			}
		}

		samples := preRoll.Read()

		var (
			phraseCount int
			pauseCount  int
			phraseTime  time.Duration
		)

		for {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			elapsed += v.frameTime
			phraseTime += v.frameTime
			if phraseTime > v.phraseTimeLimit {
				break
			}

			if err := v.readFrame(); err != nil {
				return nil, fmt.Errorf("reading audio: %w", err)
			}

			samples = append(samples, v.frame...)
			phraseCount++

			if v.vad.Energy(v.frame) > v.energyThreshold {
				pauseCount = 0
			} else {
				pauseCount++
			}

			if pauseCount > pauseFrames {
				break
			}
		}

		phraseCount -= pauseCount
		if phraseCount < phraseFrames {
			v.logger.Debug("discarding short phrase", slog.Int("frames", phraseCount))
			continue
		}

		// keep only nonSpeakingFrames of the trailing pause
		if extra := pauseCount - nonSpeakingFrames; extra > 0 {
			samples = samples[:len(samples)-extra*len(v.frame)]
		}

		return v.intBuffer(samples), nil
	}
}

func (v *voiceImpl) Close() error {
	return v.source.Close()
}

func (v *voiceImpl) framesIn(d time.Duration) int {
	return int(math.Ceil(float64(d) / float64(v.frameTime)))
}

// adjustThreshold moves the threshold towards the energy of a quiet frame.
func (v *voiceImpl) adjustThreshold(energy float64) {
	damping := math.Pow(dynamicEnergyDamping, v.frameTime.Seconds())
	target := energy * dynamicEnergyRatio

	v.energyThreshold = v.energyThreshold*damping + target*(1-damping)
}

func (v *voiceImpl) readFrame() error {
	filled := 0
	for filled < len(v.frame) {
		n, err := v.source.Read(v.frame[filled:])
		if err != nil {
			return err
		}

		if n == 0 {
			return fmt.Errorf("source returned no samples")
		}

		filled += n
	}

	return nil
}

func (v *voiceImpl) intBuffer(samples []int16) *audio.IntBuffer {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	return &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  v.sampleRate,
		},
		Data:           data,
		SourceBitDepth: 16,
	}
}
