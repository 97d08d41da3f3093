package bufferpool

import "sync"

// SyncPool is the reference Pool, backed by a single sync.Pool shared by all
// rental sizes; a rental larger than a pooled buffer's capacity allocates a
// fresh slice of the requested size.
type SyncPool struct {
	pool sync.Pool
}

// NewSyncPool returns a Pool whose buffers start at defaultSize capacity.
func NewSyncPool(defaultSize int) *SyncPool {
	p := &SyncPool{}
	p.pool.New = func() any {
		return &Buffer{B: make([]byte, defaultSize)}
	}
	return p
}

func (p *SyncPool) Rent(minSize int) *Buffer {
	buf := p.pool.Get().(*Buffer)
	if cap(buf.B) < minSize {
		buf.B = make([]byte, minSize)
	} else {
		buf.B = buf.B[:minSize]
	}
	buf.release = p.put
	return buf
}

func (p *SyncPool) put(buf *Buffer) {
	p.pool.Put(buf)
}
