package hostfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWalkSkipsHiddenAndNamedEntries(t *testing.T) {
	fs := NewMem()
	require.NoError(t, fs.MkdirAll("set/.git", 0755))
	require.NoError(t, afWriteFile(fs, "set/.git/HEAD", "ref"))
	require.NoError(t, afWriteFile(fs, "set/.hidden", "x"))
	require.NoError(t, afWriteFile(fs, "set/a.bin", "aaaa"))
	require.NoError(t, afWriteFile(fs, "set/b.bin", "bb"))
	require.NoError(t, fs.MkdirAll("set/sub", 0755))
	require.NoError(t, afWriteFile(fs, "set/sub/c.bin", "ccc"))

	entries, err := fs.Walk("set", []string{"par3"})
	require.NoError(t, err)

	var names []string
	sizes := map[string]int64{}
	for _, e := range entries {
		names = append(names, e.Path)
		sizes[e.Path] = e.Size
	}
	require.ElementsMatch(t, []string{"a.bin", "b.bin", "sub/c.bin"}, names)
	require.EqualValues(t, 4, sizes["a.bin"])
	require.EqualValues(t, 2, sizes["b.bin"])
}

func TestCreateAtAndOpenAtRoundTrip(t *testing.T) {
	fs := NewMem()
	w, err := fs.CreateAt("out.bin")
	require.NoError(t, err)
	_, err = w.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := fs.OpenAt("out.bin")
	require.NoError(t, err)
	defer r.Close()
	buf := make([]byte, 5)
	_, err = r.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))
}

func TestFakeClockAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)
	require.Equal(t, start, clock.Now())
	clock.Advance(500 * time.Millisecond)
	require.Equal(t, start.Add(500*time.Millisecond), clock.Now())
}

func afWriteFile(fs *FS, path, contents string) error {
	f, err := fs.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(contents)
	return err
}
