package listener

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"

	"mic-line-stt/command"
	"mic-line-stt/diagnostics"
	"mic-line-stt/speech_extraction"
	"mic-line-stt/speech_to_text"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Count(line string) int {
	n := 0
	for _, l := range strings.Split(b.String(), "\n") {
		if l == line {
			n++
		}
	}
	return n
}

type fakeDevice struct {
	mu           sync.Mutex
	listens      int
	closed       bool
	calibrated   bool
	calibrateErr error
	listen       func(n int) (*audio.IntBuffer, error)
}

func (d *fakeDevice) Calibrate(ctx context.Context, duration time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calibrated = true
	return d.calibrateErr
}

func (d *fakeDevice) Listen(ctx context.Context, timeout time.Duration) (*audio.IntBuffer, error) {
	d.mu.Lock()
	d.listens++
	n := d.listens
	listen := d.listen
	d.mu.Unlock()

	if listen == nil {
		time.Sleep(time.Millisecond)
		return nil, speech_extraction.ErrTimeout
	}

	return listen(n)
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDevice) Listens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listens
}

func (d *fakeDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type sttFunc func(ctx context.Context, buf *audio.IntBuffer, language string) (string, error)

func (f sttFunc) Process(ctx context.Context, buf *audio.IntBuffer, language string) (string, error) {
	return f(ctx, buf, language)
}

func speech() *audio.IntBuffer {
	return &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 16000},
		Data:           []int{1, 2, 3},
		SourceBitDepth: 16,
	}
}

type harness struct {
	device *fakeDevice
	queue  *command.Queue
	ctx    context.Context
	cancel context.CancelFunc
	out    *syncBuffer
	diag   *syncBuffer
	loop   *voiceImpl
	done   chan error
}

func newHarness(t *testing.T, device *fakeDevice, stt speech_to_text.Interface, openErr error) *harness {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{
		device: device,
		queue:  command.NewQueue(),
		ctx:    ctx,
		cancel: cancel,
		out:    &syncBuffer{},
		diag:   &syncBuffer{},
		done:   make(chan error, 1),
	}

	loop, err := New(&Config{
		OpenDevice: func(context.Context) (speech_extraction.Interface, error) {
			if openErr != nil {
				return nil, openErr
			}
			return device, nil
		},
		STTEngine:    stt,
		Commands:     h.queue,
		Cancel:       cancel,
		Language:     "kn-IN",
		Output:       h.out,
		Diagnostics:  diagnostics.New(h.diag, nil),
		IdleInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h.loop = loop.(*voiceImpl)

	return h
}

func (h *harness) push(lines ...string) {
	for _, line := range lines {
		h.queue.Push(command.Parse(line))
	}
}

func (h *harness) start() {
	go func() {
		h.done <- h.loop.ListenLoop(h.ctx)
	}()
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()

	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("listen loop did not return")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func unused(t *testing.T) speech_to_text.Interface {
	return sttFunc(func(context.Context, *audio.IntBuffer, string) (string, error) {
		t.Error("recognizer should not be called")
		return "", nil
	})
}

func TestNew(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for nil config")
	}

	if _, err := New(&Config{}); err == nil {
		t.Error("expected error for empty config")
	}
}

func TestListenLoop_Startup(t *testing.T) {
	t.Run("device failure aborts before the loop", func(t *testing.T) {
		h := newHarness(t, &fakeDevice{}, unused(t), errors.New("no microphone"))

		err := h.loop.ListenLoop(h.ctx)
		if err == nil || !strings.Contains(err.Error(), "no microphone") {
			t.Fatalf("expected device error, got %v", err)
		}

		if strings.Contains(h.diag.String(), "READY") {
			t.Error("READY must not be emitted without a device")
		}
	})

	t.Run("calibration failure aborts and releases the device", func(t *testing.T) {
		device := &fakeDevice{calibrateErr: errors.New("stream broke")}
		h := newHarness(t, device, unused(t), nil)

		if err := h.loop.ListenLoop(h.ctx); err == nil {
			t.Fatal("expected calibration error")
		}

		if !device.Closed() {
			t.Error("expected device to be closed")
		}
	})

	t.Run("READY is emitted once after calibration", func(t *testing.T) {
		device := &fakeDevice{}
		h := newHarness(t, device, unused(t), nil)
		h.push("exit")

		if err := h.loop.ListenLoop(h.ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !device.calibrated {
			t.Error("expected device to be calibrated")
		}

		if !strings.HasPrefix(h.diag.String(), "READY\n") || h.diag.Count("READY") != 1 {
			t.Errorf("expected a single leading READY, got %q", h.diag.String())
		}
	})
}

func TestListenLoop_Scenarios(t *testing.T) {
	t.Run("start then silence awaits audio without output", func(t *testing.T) {
		device := &fakeDevice{}
		h := newHarness(t, device, unused(t), nil)
		h.push("START")
		h.start()

		waitFor(t, "repeated listen attempts", func() bool { return h.diag.Count("Awaiting audio...") >= 3 })
		h.cancel()

		if err := h.wait(t); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if h.diag.Count("Listening started.") != 1 {
			t.Errorf("expected a start notice, got %q", h.diag.String())
		}

		if h.out.String() != "" {
			t.Errorf("expected no output, got %q", h.out.String())
		}

		if !device.Closed() {
			t.Error("expected device to be closed")
		}
	})

	t.Run("start stop exit in one batch never captures", func(t *testing.T) {
		device := &fakeDevice{}
		h := newHarness(t, device, unused(t), nil)
		h.push("start", "stop", "exit")
		h.start()

		if err := h.wait(t); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if device.Listens() != 0 {
			t.Errorf("expected no capture attempts, got %d", device.Listens())
		}

		for _, notice := range []string{"Listening started.", "Listening stopped.", "Exiting..."} {
			if h.diag.Count(notice) != 1 {
				t.Errorf("expected %q once, got %q", notice, h.diag.String())
			}
		}

		if h.ctx.Err() == nil {
			t.Error("expected Exit to cancel the shared context")
		}

		if !device.Closed() {
			t.Error("expected device to be closed")
		}
	})

	t.Run("unknown command keeps the listener idle and running", func(t *testing.T) {
		device := &fakeDevice{}
		h := newHarness(t, device, unused(t), nil)
		h.push("foo")
		h.start()

		waitFor(t, "unknown command notice", func() bool { return h.diag.Count("Unknown command: foo") == 1 })

		// give the loop a few idle iterations
		time.Sleep(30 * time.Millisecond)

		if device.Listens() != 0 {
			t.Errorf("expected no capture while idle, got %d", device.Listens())
		}

		select {
		case err := <-h.done:
			t.Fatalf("listen loop stopped early: %v", err)
		default:
		}

		h.push("exit")
		if err := h.wait(t); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("service errors are reported on every attempt", func(t *testing.T) {
		device := &fakeDevice{listen: func(int) (*audio.IntBuffer, error) { return speech(), nil }}
		stt := sttFunc(func(context.Context, *audio.IntBuffer, string) (string, error) {
			return "", speech_to_text.NewServiceError(errors.New("quota exceeded"))
		})
		h := newHarness(t, device, stt, nil)
		h.push("start")
		h.start()

		waitFor(t, "several service errors", func() bool { return h.diag.Count("STT API error: quota exceeded") >= 5 })
		h.cancel()

		if err := h.wait(t); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if h.out.String() != "" {
			t.Errorf("expected no output, got %q", h.out.String())
		}
	})

	t.Run("recognized text is written exactly once", func(t *testing.T) {
		const hitOn = 4

		device := &fakeDevice{listen: func(n int) (*audio.IntBuffer, error) {
			if n == hitOn {
				return speech(), nil
			}
			time.Sleep(time.Millisecond)
			return nil, speech_extraction.ErrTimeout
		}}
		stt := sttFunc(func(_ context.Context, _ *audio.IntBuffer, language string) (string, error) {
			if language != "kn-IN" {
				t.Errorf("expected language kn-IN, got %s", language)
			}
			return "hello", nil
		})
		h := newHarness(t, device, stt, nil)
		h.push("start")
		h.start()

		waitFor(t, "attempts after the hit", func() bool { return device.Listens() > hitOn+2 })
		h.push("exit")

		if err := h.wait(t); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if h.out.String() != "hello\n" {
			t.Errorf("expected exactly one hello line, got %q", h.out.String())
		}
	})

	t.Run("unintelligible speech is reported", func(t *testing.T) {
		device := &fakeDevice{listen: func(int) (*audio.IntBuffer, error) { return speech(), nil }}
		stt := sttFunc(func(context.Context, *audio.IntBuffer, string) (string, error) {
			return "", speech_to_text.ErrUnrecognized
		})
		h := newHarness(t, device, stt, nil)
		h.push("start")
		h.start()

		waitFor(t, "could not understand", func() bool { return h.diag.Count("Could not understand.") >= 2 })
		h.push("exit")

		if err := h.wait(t); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestListenLoop_Ordering(t *testing.T) {
	t.Run("commands after exit in the same batch are dropped", func(t *testing.T) {
		device := &fakeDevice{}
		h := newHarness(t, device, unused(t), nil)
		h.push("start", "exit", "stop", "start", "bogus")
		h.start()

		if err := h.wait(t); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if h.diag.Count("Listening started.") != 1 || h.diag.Count("Listening stopped.") != 0 {
			t.Errorf("commands after exit were applied: %q", h.diag.String())
		}

		if strings.Contains(h.diag.String(), "bogus") {
			t.Errorf("unknown command after exit was reported: %q", h.diag.String())
		}

		if device.Listens() != 0 {
			t.Errorf("expected no capture attempts, got %d", device.Listens())
		}
	})

	t.Run("commands queued during a capture apply after its outcome", func(t *testing.T) {
		var h *harness

		device := &fakeDevice{}
		device.listen = func(n int) (*audio.IntBuffer, error) {
			if n == 1 {
				h.push("stop")
			}
			return speech(), nil
		}
		stt := sttFunc(func(context.Context, *audio.IntBuffer, string) (string, error) {
			if !strings.Contains(h.diag.String(), "Listening stopped.") {
				return "hello", nil
			}
			return "too late", nil
		})

		h = newHarness(t, device, stt, nil)
		h.push("start")
		h.start()

		waitFor(t, "stop notice", func() bool { return h.diag.Count("Listening stopped.") == 1 })
		time.Sleep(20 * time.Millisecond)
		h.push("exit")

		if err := h.wait(t); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if device.Listens() != 1 {
			t.Errorf("expected exactly one capture, got %d", device.Listens())
		}

		if h.out.String() != "hello\n" {
			t.Errorf("expected the in-flight outcome to be written first, got %q", h.out.String())
		}
	})
}

func TestListenLoop_Recovery(t *testing.T) {
	t.Run("a panicking recognizer does not stop the loop", func(t *testing.T) {
		var calls int
		var mu sync.Mutex

		device := &fakeDevice{listen: func(int) (*audio.IntBuffer, error) { return speech(), nil }}
		stt := sttFunc(func(context.Context, *audio.IntBuffer, string) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				panic("boom")
			}
			return "recovered", nil
		})
		h := newHarness(t, device, stt, nil)
		h.push("start")
		h.start()

		waitFor(t, "output after panic", func() bool { return strings.Contains(h.out.String(), "recovered") })
		h.push("exit")

		if err := h.wait(t); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !strings.Contains(h.diag.String(), "Main loop error: panic: boom") {
			t.Errorf("expected panic to be reported, got %q", h.diag.String())
		}
	})

	t.Run("device read failures are reported and the loop continues", func(t *testing.T) {
		device := &fakeDevice{listen: func(int) (*audio.IntBuffer, error) {
			return nil, errors.New("device unplugged")
		}}
		h := newHarness(t, device, unused(t), nil)
		h.push("start")
		h.start()

		waitFor(t, "repeated failures", func() bool { return h.diag.Count("Main loop error: device unplugged") >= 2 })
		h.cancel()

		if err := h.wait(t); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("external cancellation stops the loop and releases the device", func(t *testing.T) {
		device := &fakeDevice{}
		h := newHarness(t, device, unused(t), nil)
		h.start()

		waitFor(t, "READY", func() bool { return h.diag.Count("READY") == 1 })
		h.cancel()

		if err := h.wait(t); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !device.Closed() {
			t.Error("expected device to be closed")
		}

		if strings.Contains(h.diag.String(), "Exiting...") {
			t.Error("cancellation is not an Exit command")
		}
	})
}

func TestApplyCommands_ListeningState(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	words := []string{"start", "stop", "hello", "START ", " Stop"}

	for round := 0; round < 200; round++ {
		h := newHarness(t, &fakeDevice{}, unused(t), nil)

		expected := StateIdle
		n := 1 + rng.Intn(12)
		for i := 0; i < n; i++ {
			word := words[rng.Intn(len(words))]
			h.push(word)

			switch command.Parse(word).Kind {
			case command.KindStart:
				expected = StateActive
			case command.KindStop:
				expected = StateIdle
			}
		}

		if exit := h.loop.applyCommands(); exit {
			t.Fatal("no exit was queued")
		}

		if h.loop.state != expected {
			t.Fatalf("round %d: expected %s, got %s", round, expected, h.loop.state)
		}
	}
}
