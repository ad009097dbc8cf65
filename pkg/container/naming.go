package container

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind distinguishes the two payload file kinds named differently on disk.
type Kind int

const (
	KindArchive Kind = iota
	KindRecovery
)

// IndexFileName is the always-written index file's name.
func IndexFileName(base string) string {
	return fmt.Sprintf("%s.par3", base)
}

// FileNames returns one name per layout, in the same order, using the
// narrowest zero-padded START/COUNT width that still keeps every name in
// the set sorting lexicographically in block-index order.
func FileNames(base string, kind Kind, layouts []Layout) []string {
	startWidth, countWidth := 1, 1
	for _, l := range layouts {
		startWidth = maxWidth(startWidth, l.Start)
		countWidth = maxWidth(countWidth, l.Count)
	}

	tag := "part"
	if kind == KindRecovery {
		tag = "vol"
	}

	names := make([]string, len(layouts))
	for i, l := range layouts {
		names[i] = fmt.Sprintf("%s.%s%0*d+%0*d.par3", base, tag, startWidth, l.Start, countWidth, l.Count)
	}
	return names
}

// ParseVolumeName recovers a payload file's Kind and Layout from its name,
// the inverse of FileNames. PAR DAT packets carry no block-index field of
// their own (unlike Recovery Data's self-describing RecoveryBlockIndex), so
// a reader resolving an archive file's packets back to absolute block
// indices relies entirely on the <START>+<COUNT> the filename itself
// encodes.
func ParseVolumeName(name string) (kind Kind, layout Layout, err error) {
	const suffix = ".par3"
	if !strings.HasSuffix(name, suffix) {
		return 0, Layout{}, fmt.Errorf("container: %q has no .par3 suffix", name)
	}
	trimmed := strings.TrimSuffix(name, suffix)

	tagIdx := strings.LastIndexByte(trimmed, '.')
	if tagIdx < 0 {
		return 0, Layout{}, fmt.Errorf("container: %q has no volume tag", name)
	}
	tagged := trimmed[tagIdx+1:]

	switch {
	case strings.HasPrefix(tagged, "part"):
		kind = KindArchive
		tagged = strings.TrimPrefix(tagged, "part")
	case strings.HasPrefix(tagged, "vol"):
		kind = KindRecovery
		tagged = strings.TrimPrefix(tagged, "vol")
	default:
		return 0, Layout{}, fmt.Errorf("container: %q has an unrecognised volume tag", name)
	}

	plusIdx := strings.IndexByte(tagged, '+')
	if plusIdx < 0 {
		return 0, Layout{}, fmt.Errorf("container: %q is missing the start+count separator", name)
	}
	start, err := strconv.Atoi(tagged[:plusIdx])
	if err != nil {
		return 0, Layout{}, fmt.Errorf("container: %q has a malformed start: %w", name, err)
	}
	count, err := strconv.Atoi(tagged[plusIdx+1:])
	if err != nil {
		return 0, Layout{}, fmt.Errorf("container: %q has a malformed count: %w", name, err)
	}
	return kind, Layout{Start: start, Count: count}, nil
}

// maxWidth returns the larger of w and the decimal digit width needed to
// print v, so zero-padding stays wide enough for every value in the set.
func maxWidth(w, v int) int {
	digits := 1
	for v >= 10 {
		v /= 10
		digits++
	}
	if digits > w {
		return digits
	}
	return w
}
