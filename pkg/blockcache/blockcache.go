// Package blockcache is a bounded, in-memory cache of whole input-file
// contents, shared between the mapper pass (which reads every input file
// once to build the chunk/block graph) and the Reed-Solomon encode pass
// (which reads the same files again, sliced by block, to source recovery
// data). Keeping both passes' file bytes in one process run would
// otherwise mean reading every input file from disk twice. Nothing here
// needs to be exact or ordered the way the mapper's dedup indices
// (pkg/mapper) do: a miss just means re-reading from disk, so an
// admission/eviction policy that drops entries under memory pressure is
// exactly what's wanted.
package blockcache

import "github.com/dgraph-io/ristretto/v2"

// Cache holds recently read file contents, keyed by absolute path.
type Cache struct {
	data *ristretto.Cache[string, []byte]
}

// New returns a Cache admitting up to maxBytes worth of cached file
// contents. NumCounters follows ristretto's own sizing guidance: roughly
// 10x the number of items the cache is expected to hold at once.
func New(maxBytes int64, expectedFileSize int64) (*Cache, error) {
	expectedItems := int64(1)
	if expectedFileSize > 0 {
		expectedItems = maxBytes / expectedFileSize
		if expectedItems < 1 {
			expectedItems = 1
		}
	}
	data, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: expectedItems * 10,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{data: data}, nil
}

// Get returns a cached file's bytes, if still resident.
func (c *Cache) Get(path string) ([]byte, bool) {
	return c.data.Get(path)
}

// Set stores a file's bytes, costed by their length.
func (c *Cache) Set(path string, payload []byte) {
	c.data.Set(path, payload, int64(len(payload)))
	c.data.Wait()
}

// Close releases the cache's background goroutines.
func (c *Cache) Close() {
	c.data.Close()
}
