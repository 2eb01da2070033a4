package logger

// ringBuffer keeps the most recent lines written to a log file.
type ringBuffer struct {
	lines []string
	next  int
	count int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{lines: make([]string, max(capacity, 1))}
}

func (rb *ringBuffer) push(line string) {
	rb.lines[rb.next] = line
	rb.next = (rb.next + 1) % len(rb.lines)
	rb.count = min(rb.count+1, len(rb.lines))
}

// snapshot returns the buffered lines oldest first.
func (rb *ringBuffer) snapshot() []string {
	out := make([]string, 0, rb.count)
	start := (rb.next - rb.count + len(rb.lines)) % len(rb.lines)
	for i := range rb.count {
		out = append(out, rb.lines[(start+i)%len(rb.lines)])
	}
	return out
}

func (rb *ringBuffer) len() int { return rb.count }
func (rb *ringBuffer) cap() int { return len(rb.lines) }
