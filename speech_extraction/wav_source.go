package speech_extraction

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

// WavSource plays a mono 16-bit WAV file as if it were a microphone.
type WavSource struct {
	file       afero.File
	decoder    *wav.Decoder
	buf        *audio.IntBuffer
	sampleRate int
	realtime   bool
	exhausted  bool
}

// NewWavSource opens path on fileSys. With realtime set, reads are paced to
// the sample rate and the source yields silence once the file is exhausted;
// otherwise it returns io.EOF.
func NewWavSource(fileSys afero.Fs, path string, realtime bool) (*WavSource, error) {
	file, err := fileSys.Open(path)
	if err != nil {
		return nil, err
	}

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		file.Close()
		return nil, fmt.Errorf("%s is not a valid wav file", path)
	}

	if decoder.NumChans != 1 || decoder.BitDepth != 16 {
		file.Close()
		return nil, fmt.Errorf("%s must be mono 16-bit PCM, got %d channels at %d bits",
			path, decoder.NumChans, decoder.BitDepth)
	}

	return &WavSource{
		file:       file,
		decoder:    decoder,
		sampleRate: int(decoder.SampleRate),
		realtime:   realtime,
	}, nil
}

func (s *WavSource) Read(buf []int16) (int, error) {
	if s.realtime {
		time.Sleep(time.Duration(len(buf)) * time.Second / time.Duration(s.sampleRate))
	}

	if s.exhausted {
		return s.silence(buf)
	}

	if s.buf == nil || len(s.buf.Data) != len(buf) {
		s.buf = &audio.IntBuffer{
			Format:         s.decoder.Format(),
			Data:           make([]int, len(buf)),
			SourceBitDepth: 16,
		}
	}

	n, err := s.decoder.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, err
	}

	if n == 0 {
		s.exhausted = true
		return s.silence(buf)
	}

	for i := 0; i < n; i++ {
		buf[i] = int16(s.buf.Data[i])
	}

	return n, nil
}

func (s *WavSource) silence(buf []int16) (int, error) {
	if !s.realtime {
		return 0, io.EOF
	}

	for i := range buf {
		buf[i] = 0
	}

	return len(buf), nil
}

func (s *WavSource) SampleRate() int {
	return s.sampleRate
}

func (s *WavSource) Close() error {
	return s.file.Close()
}
