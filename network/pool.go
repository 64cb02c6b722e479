package network

import (
	"github.com/valyala/bytebufferpool"

	"github.com/glittercutter/udp-network/wire"
)

// bufferPool hands out wire.Buffers backed by a bytebufferpool.Pool instead
// of the teacher's raw free-list (conn.go's Pool) or the original C++'s
// Network::newBuffer/releaseBuffer vector-as-freelist: same "reuse instead
// of allocate" idea, expressed with the pack's pooling library.
type bufferPool struct {
	pool bytebufferpool.Pool
}

// AcquireBuffer satisfies reliable.Host, handing a Connection a
// ready-to-write buffer it does not own the lifetime of.
func (p *bufferPool) AcquireBuffer() *wire.Buffer {
	return wire.Wrap(p.pool.Get())
}

// ReleaseBuffer returns a buffer to the pool. Callers must not touch b
// afterwards.
func (p *bufferPool) ReleaseBuffer(b *wire.Buffer) {
	p.pool.Put(b.Detach())
}
