package container

// TrialReport summarizes a candidate sizing scheme's file count and layout
// without writing any payload, so a user can compare schemes before
// committing to one.
type TrialReport struct {
	Scheme   Scheme
	Layouts  []Layout
	FileSize []int64
}

// Trial computes a TrialReport for scheme against n payload blocks of
// blockSize bytes each, without touching disk.
func Trial(scheme Scheme, n, f, maxBlocksPerFile, blockSize int) (TrialReport, error) {
	layouts, err := Plan(scheme, n, f, maxBlocksPerFile)
	if err != nil {
		return TrialReport{}, err
	}
	sizes := make([]int64, len(layouts))
	for i, l := range layouts {
		sizes[i] = int64(l.Count) * int64(blockSize)
	}
	return TrialReport{Scheme: scheme, Layouts: layouts, FileSize: sizes}, nil
}
