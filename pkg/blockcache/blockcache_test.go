package blockcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetAndGetRoundTrip(t *testing.T) {
	c, err := New(1<<20, 4096)
	require.NoError(t, err)
	defer c.Close()

	c.Set("/tmp/a.bin", []byte("hello world"))

	got, ok := c.Get("/tmp/a.bin")
	require.True(t, ok)
	require.Equal(t, []byte("hello world"), got)
}

func TestGetMissReportsNotFound(t *testing.T) {
	c, err := New(1<<20, 4096)
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.Get("/tmp/never-set.bin")
	require.False(t, ok)
}

func TestEvictsUnderCostPressure(t *testing.T) {
	c, err := New(1024, 256)
	require.NoError(t, err)
	defer c.Close()

	names := make([]string, 64)
	for i := range names {
		names[i] = "/tmp/file" + string(rune('a'+i%26))
		c.Set(names[i], make([]byte, 256))
	}
	time.Sleep(10 * time.Millisecond)

	found := 0
	for _, name := range names {
		if _, ok := c.Get(name); ok {
			found++
		}
	}
	// A 1 KiB budget can't hold 64 entries of 256 bytes each without
	// evicting most of them.
	require.Less(t, found, 64)
}
