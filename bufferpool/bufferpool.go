// Package bufferpool provides the scoped byte-buffer rental port used by the
// ring buffer transport and storage adapters to avoid per-message
// allocation on the hot path.
package bufferpool

// Buffer is a rented byte slice. B is reset to a requested minimum length
// each rental; Release returns it to the pool for reuse.
type Buffer struct {
	B       []byte
	release func(*Buffer)
}

// Release returns the buffer to its owning Pool. Safe to call once; a second
// call is a no-op.
func (buf *Buffer) Release() {
	if buf.release == nil {
		return
	}
	r := buf.release
	buf.release = nil
	r(buf)
}

// Pool rents buffers sized to at least the caller's requirement.
type Pool interface {
	// Rent returns a Buffer whose B field has length minSize. Callers must
	// call Release when done.
	Rent(minSize int) *Buffer
}
