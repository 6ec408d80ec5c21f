// Package fifo provides a fixed size byte ring used to cut payloads into frames.
package fifo

// Fifo is a byte ring of fixed capacity. It is not safe for concurrent use.
type Fifo struct {
	buffer []byte
	head   int // next byte to read
	count  int
}

func New(capacity int) *Fifo {
	if capacity < 0 {
		capacity = 0
	}
	return &Fifo{buffer: make([]byte, capacity)}
}

// Bytes waiting to be read
func (f *Fifo) Len() int {
	return f.count
}

// Bytes that can still be written
func (f *Fifo) Free() int {
	return len(f.buffer) - f.count
}

// Write as much of p as fits, returns the number of bytes written
func (f *Fifo) Write(p []byte) int {
	n := min(len(p), f.Free())
	tail := (f.head + f.count) % max(len(f.buffer), 1)
	// At most two copies, up to the end of the buffer then from its start
	written := copy(f.buffer[tail:], p[:n])
	copy(f.buffer, p[written:n])
	f.count += n
	return n
}

// Read up to len(p) bytes, returns the number of bytes read
func (f *Fifo) Read(p []byte) int {
	n := min(len(p), f.count)
	read := copy(p[:n], f.buffer[f.head:])
	copy(p[read:n], f.buffer)
	f.head = (f.head + n) % max(len(f.buffer), 1)
	f.count -= n
	return n
}
