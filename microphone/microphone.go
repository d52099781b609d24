// Package microphone captures 16-bit mono PCM from a PortAudio input device.
package microphone

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gordonklaus/portaudio"
)

type Microphone struct {
	stream     *portaudio.Stream
	in         []int16
	pending    []int16
	sampleRate int
	logger     *slog.Logger
}

type Config struct {
	// DeviceName selects an input device by name. Empty means the default device.
	DeviceName string
	SampleRate int
	FrameSize  int
	Logger     *slog.Logger
}

// Open initializes PortAudio and starts a blocking input stream. Close
// releases both.
func Open(cfg *Config) (*Microphone, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.SampleRate <= 0 || cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d or frame size %d", cfg.SampleRate, cfg.FrameSize)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}

	device, err := inputDevice(cfg.DeviceName)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FrameSize

	in := make([]int16, cfg.FrameSize)

	stream, err := portaudio.OpenStream(params, in)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("opening input stream on %q: %w", device.Name, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("starting input stream on %q: %w", device.Name, err)
	}

	logger.Info("microphone opened",
		slog.String("device", device.Name),
		slog.Int("sample_rate", cfg.SampleRate),
		slog.Int("frame_size", cfg.FrameSize),
	)

	return &Microphone{
		stream:     stream,
		in:         in,
		sampleRate: cfg.SampleRate,
		logger:     logger,
	}, nil
}

func inputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("no default input device: %w", err)
		}
		return device, nil
	}

	devices, err := InputDevices()
	if err != nil {
		return nil, err
	}

	for _, d := range devices {
		if d.Name == name {
			return d, nil
		}
	}

	return nil, fmt.Errorf("input device %q not found", name)
}

// InputDevices lists devices with at least one input channel. PortAudio must
// be initialized.
func InputDevices() ([]*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}

	inputs := make([]*portaudio.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			inputs = append(inputs, d)
		}
	}

	return inputs, nil
}

// Read copies captured samples into buf, reading a new buffer from the
// stream when nothing is pending.
func (m *Microphone) Read(buf []int16) (int, error) {
	if len(m.pending) == 0 {
		err := m.stream.Read()
		if err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			return 0, err
		}

		if err != nil {
			m.logger.Debug("input overflowed, samples were dropped")
		}

		m.pending = m.in
	}

	n := copy(buf, m.pending)
	m.pending = m.pending[n:]

	return n, nil
}

func (m *Microphone) SampleRate() int {
	return m.sampleRate
}

func (m *Microphone) Close() error {
	var errs []error

	if err := m.stream.Stop(); err != nil {
		errs = append(errs, err)
	}

	if err := m.stream.Close(); err != nil {
		errs = append(errs, err)
	}

	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
