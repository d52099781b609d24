package ring_buffer

// RingBuffer keeps the most recent samples written to it.
type RingBuffer struct {
	buffer []int16
	head   int
	filled int
}

func New(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}

	return &RingBuffer{
		buffer: make([]int16, size),
	}
}

func (r *RingBuffer) Add(samples []int16) {
	for _, s := range samples {
		r.buffer[r.head] = s
		r.head = (r.head + 1) % len(r.buffer)
	}

	r.filled += len(samples)
	if r.filled > len(r.buffer) {
		r.filled = len(r.buffer)
	}
}

// Read returns a copy of the buffered samples, oldest first.
func (r *RingBuffer) Read() []int16 {
	samples := make([]int16, r.filled)
	start := r.head - r.filled + len(r.buffer)

	for i := 0; i < r.filled; i++ {
		samples[i] = r.buffer[(start+i)%len(r.buffer)]
	}

	return samples
}

func (r *RingBuffer) Len() int {
	return r.filled
}

func (r *RingBuffer) Clear() {
	for i := 0; i < len(r.buffer); i++ {
		r.buffer[i] = 0
	}

	r.head = 0
	r.filled = 0
}
