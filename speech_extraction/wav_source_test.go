package speech_extraction

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

func writeWav(t *testing.T, fileSys afero.Fs, path string, sampleRate, channels int, samples []int16) {
	t.Helper()

	file, err := fileSys.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	encoder := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := encoder.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}); err != nil {
		t.Fatalf("encode: %v", err)
	}

	if err := encoder.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}

	if err := file.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
}

func TestWavSource(t *testing.T) {
	t.Run("samples are read back and then EOF", func(t *testing.T) {
		fileSys := afero.NewMemMapFs()
		writeWav(t, fileSys, "utterance.wav", testSampleRate, 1, []int16{1, -2, 3, -4, 5})

		source, err := NewWavSource(fileSys, "utterance.wav", false)
		if err != nil {
			t.Fatalf("NewWavSource: %v", err)
		}
		defer source.Close()

		if source.SampleRate() != testSampleRate {
			t.Errorf("expected sample rate %d, got %d", testSampleRate, source.SampleRate())
		}

		buf := make([]int16, 8)
		n, err := source.Read(buf)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if n != 5 {
			t.Fatalf("expected 5 samples, got %d", n)
		}

		for i, want := range []int16{1, -2, 3, -4, 5} {
			if buf[i] != want {
				t.Errorf("sample %d: expected %d, got %d", i, want, buf[i])
			}
		}

		if _, err := source.Read(buf); !errors.Is(err, io.EOF) {
			t.Errorf("expected io.EOF, got %v", err)
		}
	})

	t.Run("stereo files are rejected", func(t *testing.T) {
		fileSys := afero.NewMemMapFs()
		writeWav(t, fileSys, "stereo.wav", testSampleRate, 2, []int16{1, 1, 2, 2})

		if _, err := NewWavSource(fileSys, "stereo.wav", false); err == nil {
			t.Error("expected error for stereo input")
		}
	})

	t.Run("missing and invalid files are rejected", func(t *testing.T) {
		fileSys := afero.NewMemMapFs()

		if _, err := NewWavSource(fileSys, "missing.wav", false); err == nil {
			t.Error("expected error for missing file")
		}

		if err := afero.WriteFile(fileSys, "junk.wav", []byte("not a wav file at all"), 0o644); err != nil {
			t.Fatal(err)
		}

		if _, err := NewWavSource(fileSys, "junk.wav", false); err == nil {
			t.Error("expected error for invalid file")
		}
	})

	t.Run("a phrase in a file is extracted", func(t *testing.T) {
		var samples []int16
		for _, frame := range repeat(silentFrame, 2) {
			samples = append(samples, frame...)
		}
		for _, frame := range repeat(loudFrame, 10) {
			samples = append(samples, frame...)
		}
		for _, frame := range repeat(silentFrame, 20) {
			samples = append(samples, frame...)
		}

		fileSys := afero.NewMemMapFs()
		writeWav(t, fileSys, "phrase.wav", testSampleRate, 1, samples)

		source, err := NewWavSource(fileSys, "phrase.wav", false)
		if err != nil {
			t.Fatalf("NewWavSource: %v", err)
		}

		v := newTestExtractor(t, source, false)
		defer v.Close()

		buf, err := v.Listen(context.Background(), 10*time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(buf.Data) == 0 {
			t.Error("expected captured audio")
		}
	})
}
