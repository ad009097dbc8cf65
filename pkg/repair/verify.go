package repair

import (
	"github.com/marmos91/par3/pkg/model"
	"github.com/marmos91/par3/pkg/search"
)

// ReverifyFiles re-runs, after reconstruction,
// the five-way file classification with the repaired blocks folded
// into the found set, confirming each target file is now StatusComplete.
func ReverifyFiles(graph *model.Graph, files []*model.File, found map[int]bool, plan Plan) map[int]search.FileStatus {
	merged := make(map[int]bool, len(found)+len(plan.Reconstructed))
	for k, v := range found {
		merged[k] = v
	}
	for blockIndex := range plan.Reconstructed {
		merged[blockIndex] = true
	}

	out := make(map[int]search.FileStatus, len(files))
	for _, f := range files {
		out[f.Index] = search.ClassifyFile(graph, f, merged, true)
	}
	return out
}
