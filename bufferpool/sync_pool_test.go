package bufferpool_test

import (
	"testing"

	"github.com/dmitrymomot/heromessaging/bufferpool"
	"github.com/stretchr/testify/require"
)

func TestSyncPool_RentSizesExactly(t *testing.T) {
	p := bufferpool.NewSyncPool(64)

	buf := p.Rent(16)
	require.Len(t, buf.B, 16)
	buf.Release()

	buf2 := p.Rent(128)
	require.Len(t, buf2.B, 128)
	buf2.Release()
}

func TestSyncPool_ReleaseIsIdempotent(t *testing.T) {
	p := bufferpool.NewSyncPool(32)
	buf := p.Rent(8)
	buf.Release()
	require.NotPanics(t, func() { buf.Release() })
}
