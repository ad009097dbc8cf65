// Package container implements the PAR3 container writer's file-layout
// decisions: how many blocks each archive/recovery file carries, what every
// file is named, and how often the critical-packet bundle repeats inside a
// payload file.
package container

import "fmt"

// Scheme selects one of the sizing schemes available for splitting n
// payload blocks across files.
type Scheme int

const (
	// SchemeUniform splits n blocks into f files as evenly as possible.
	SchemeUniform Scheme = iota
	// SchemePowerOfTwo gives file i (counting from the smallest) 2^i
	// blocks until the remainder is exhausted.
	SchemePowerOfTwo
	// SchemeSizeLimited caps every file at maxBlocksPerFile in addition
	// to the power-of-two progression.
	SchemeSizeLimited
)

// Layout is one file's share of a sizing plan: it holds blocks
// [Start, Start+Count).
type Layout struct {
	Start int
	Count int
}

// Plan splits n blocks according to scheme. f is the desired file count for
// SchemeUniform; it is ignored by the other two schemes, which instead stop
// once n blocks are assigned. maxBlocksPerFile is only consulted by
// SchemeSizeLimited.
func Plan(scheme Scheme, n, f, maxBlocksPerFile int) ([]Layout, error) {
	if n < 0 {
		return nil, fmt.Errorf("container: negative block count %d", n)
	}
	if n == 0 {
		return nil, nil
	}
	switch scheme {
	case SchemeUniform:
		return planUniform(n, f)
	case SchemePowerOfTwo:
		return planPowerOfTwo(n, 0)
	case SchemeSizeLimited:
		return planSizeLimited(n, maxBlocksPerFile)
	default:
		return nil, fmt.Errorf("container: unknown sizing scheme %d", scheme)
	}
}

// planUniform splits n into f files of ceil(n/f) or floor(n/f) blocks each,
// the larger files coming first.
func planUniform(n, f int) ([]Layout, error) {
	if f <= 0 {
		return nil, fmt.Errorf("container: uniform scheme requires at least one file, got %d", f)
	}
	if f > n {
		f = n
	}
	base := n / f
	extra := n % f

	layouts := make([]Layout, 0, f)
	start := 0
	for i := 0; i < f; i++ {
		count := base
		if i < extra {
			count++
		}
		if count == 0 {
			continue
		}
		layouts = append(layouts, Layout{Start: start, Count: count})
		start += count
	}
	return layouts, nil
}

// planPowerOfTwo gives the smallest file 1 block, the next 2, then 4, 8,
// ..., until the remainder is smaller than the next power of two, which
// becomes the final file. maxBlocksPerFile,
// when positive, caps every step (used by SchemeSizeLimited via
// planSizeLimited, which shares this walk).
func planPowerOfTwo(n, maxBlocksPerFile int) ([]Layout, error) {
	var layouts []Layout
	start := 0
	remaining := n
	size := 1
	for remaining > 0 {
		count := size
		if maxBlocksPerFile > 0 && count > maxBlocksPerFile {
			count = maxBlocksPerFile
		}
		if count > remaining {
			count = remaining
		}
		layouts = append(layouts, Layout{Start: start, Count: count})
		start += count
		remaining -= count
		size *= 2
	}
	return layouts, nil
}

// planSizeLimited is the power-of-two progression with every file capped at
// maxBlocksPerFile: file i holds min(2^i, max_blocks_per_file, remaining).
func planSizeLimited(n, maxBlocksPerFile int) ([]Layout, error) {
	if maxBlocksPerFile <= 0 {
		return nil, fmt.Errorf("container: size-limited scheme requires a positive max_blocks_per_file, got %d", maxBlocksPerFile)
	}
	return planPowerOfTwo(n, maxBlocksPerFile)
}

// UniformOverride computes a uniform file count for the recovery set from a
// maximum-file-size hint, used when the caller gives a size hint instead of
// an explicit file count.
func UniformOverride(n, blockSize, maxFileSize int) ([]Layout, error) {
	if maxFileSize <= 0 {
		return nil, fmt.Errorf("container: uniform-override requires a positive max file size, got %d", maxFileSize)
	}
	blocksPerFile := maxFileSize / blockSize
	if blocksPerFile <= 0 {
		blocksPerFile = 1
	}
	f := (n + blocksPerFile - 1) / blocksPerFile
	if f == 0 {
		f = 1
	}
	return planUniform(n, f)
}
