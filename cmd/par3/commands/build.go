package commands

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/marmos91/par3/internal/logger"
	"github.com/marmos91/par3/pkg/blockcache"
	"github.com/marmos91/par3/pkg/hostfs"
	"github.com/marmos91/par3/pkg/mapper"
	"github.com/marmos91/par3/pkg/model"
)

// strategyFromName maps a config string to a mapper.Strategy.
func strategyFromName(name string) mapper.Strategy {
	switch name {
	case "simple":
		return mapper.StrategySimple
	case "hashed":
		return mapper.StrategyHashed
	default:
		return mapper.StrategySlideSearch
	}
}

// buildGraph walks every input path (expanding directories) and feeds each
// file through the mapper, producing the (File, Chunk, Slice, Block) graph
// the rest of a create/verify/repair run operates on.
func buildGraph(fs *hostfs.FS, cache *blockcache.Cache, paths []string, blockSize int, strategyName string) (*model.Graph, []string, error) {
	graph := model.NewGraph(blockSize)
	m := mapper.New(graph, strategyFromName(strategyName))

	root := graph.NewDirectory("")
	graph.RootIndex = root.Index
	dirs := dirTree{graph: graph, index: map[string]int{"": root.Index}}

	var absPaths []string
	addFile := func(name, full string) error {
		data, err := readAll(fs, full)
		if err != nil {
			return err
		}
		if cache != nil {
			cache.Set(full, data)
		}
		f := graph.NewFile(name)
		m.BeginFile(f)
		m.Feed(data)
		m.EndFile()
		absPaths = append(absPaths, full)

		parent := dirs.ensure(filepath.Dir(filepath.ToSlash(name)))
		parent.FileIdx = append(parent.FileIdx, f.Index)

		logger.Debug("mapped file", logger.File(full), logger.Size(int64(len(data))))
		return nil
	}

	for _, p := range paths {
		info, err := fs.Stat(p)
		if err != nil {
			return nil, nil, err
		}
		if !info.IsDir() {
			if err := addFile(filepath.Base(p), p); err != nil {
				return nil, nil, err
			}
			continue
		}
		dirs.ensure(filepath.Base(p))
		entries, err := fs.Walk(p, []string{"par3"})
		if err != nil {
			return nil, nil, err
		}
		for _, e := range entries {
			name := filepath.Join(filepath.Base(p), e.Path)
			if err := addFile(name, filepath.Join(p, e.Path)); err != nil {
				return nil, nil, err
			}
		}
	}
	return graph, absPaths, nil
}

// dirTree builds the Graph's Directory forest on demand as files are
// discovered, one entry per path component, so a file nested under several
// levels of subdirectories produces a directory for each ancestor, keeping
// the directory tree a forest rooted at the root marker.
type dirTree struct {
	graph *model.Graph
	index map[string]int // slash-separated relative path -> Directory index
}

func (t *dirTree) ensure(path string) *model.Directory {
	path = filepath.ToSlash(path)
	if path == "." {
		path = ""
	}
	if idx, ok := t.index[path]; ok {
		return t.graph.Directories[idx]
	}

	parentPath := filepath.ToSlash(filepath.Dir(path))
	if parentPath == "." {
		parentPath = ""
	}
	parent := t.ensure(parentPath)

	name := path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		name = path[i+1:]
	}
	d := t.graph.NewDirectory(name)
	t.index[path] = d.Index
	parent.DirIdx = append(parent.DirIdx, d.Index)
	return d
}

func readAll(fs *hostfs.FS, path string) ([]byte, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, info.Size())
	if _, err := io.ReadFull(f, buf); err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return buf, nil
}
