package container

import "math/bits"

// Repetitions computes R, the total number of critical-packet-bundle
// copies to interleave across a payload file with k payload packets, given
// commonPacketCount critical packets per bundle and a user-configured cap
// on how many extra copies may be made:
// R = count(common_packets) * min(ceil(log2 k)+1, user_limit).
func Repetitions(k, commonPacketCount, userLimit int) int {
	if k <= 0 || commonPacketCount <= 0 {
		return 0
	}
	log2k := bits.Len(uint(k - 1)) // ceil(log2 k) for k >= 1
	factor := log2k + 1
	if userLimit > 0 && userLimit < factor {
		factor = userLimit
	}
	return commonPacketCount * factor
}

// CumulativeBundles returns the number of critical-packet bundles that
// should have been written by the time payload packet i (1-indexed, i in
// [1, k]) is emitted: ceil(i * R / k).
func CumulativeBundles(i, k, r int) int {
	if k <= 0 {
		return 0
	}
	return (i*r + k - 1) / k
}

// Schedule returns, for every payload packet index 1..k, how many
// additional bundle copies to emit immediately before that packet (on top
// of the single bundle always written at the top of the file). The first
// element corresponds to payload packet 1.
func Schedule(k, commonPacketCount, userLimit int) []int {
	if k <= 0 {
		return nil
	}
	r := Repetitions(k, commonPacketCount, userLimit)
	extra := make([]int, k)
	prev := 0
	for i := 1; i <= k; i++ {
		cum := CumulativeBundles(i, k, r)
		extra[i-1] = cum - prev
		prev = cum
	}
	return extra
}
