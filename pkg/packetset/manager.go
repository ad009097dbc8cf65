// Package packetset manages the collection of packets gathered while
// scanning a directory for PAR3 files: deduplicating repeated packets,
// resolving which InputSetID chain a given set belongs to, and discarding
// packets that belong to an unrelated set found alongside it.
package packetset

import (
	"github.com/cespare/xxhash/v2"

	"github.com/marmos91/par3/pkg/hashing"
	"github.com/marmos91/par3/pkg/packet"
)

// entry is one deduplicated packet, keyed by its own fingerprint.
type entry struct {
	fingerprint hashing.Fingerprint
	packet      *packet.Packet
}

// Manager is an in-memory fingerprint-deduplicated packet store. Packets
// are indexed by an xxhash-64 digest of their fingerprint rather than the
// fingerprint itself, trading a (vanishingly unlikely) collision check for
// a smaller map key on sets with millions of packets.
type Manager struct {
	byHash map[uint64][]entry
	bySet  map[uint64][]*packet.Packet
	starts map[uint64]*packet.StartBody // setID -> its own decoded Start body
	count  int
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{
		byHash: make(map[uint64][]entry),
		bySet:  make(map[uint64][]*packet.Packet),
		starts: make(map[uint64]*packet.StartBody),
	}
}

// Ingest adds pkt to the set, returning added=false if an identical packet
// (by fingerprint) was already present — PAR3 files routinely repeat
// critical packets verbatim across volumes, and those repeats must not be
// treated as new data.
func (m *Manager) Ingest(pkt *packet.Packet) (added bool) {
	h := xxhash.Sum64(pkt.Fingerprint[:])
	for _, e := range m.byHash[h] {
		if e.fingerprint == pkt.Fingerprint {
			return false
		}
	}
	m.byHash[h] = append(m.byHash[h], entry{fingerprint: pkt.Fingerprint, packet: pkt})
	m.bySet[pkt.SetID] = append(m.bySet[pkt.SetID], pkt)
	m.count++

	if pkt.Type == packet.TypeStart {
		if sb, err := packet.DecodeStart(pkt.Body); err == nil {
			m.starts[pkt.SetID] = sb
		}
	}
	return true
}

// Count returns the number of distinct packets ingested.
func (m *Manager) Count() int { return m.count }

// PacketsForSet returns every distinct packet carrying the given SetID.
func (m *Manager) PacketsForSet(setID uint64) []*packet.Packet {
	return m.bySet[setID]
}

// KnownSetIDs returns every SetID seen, in no particular order.
func (m *Manager) KnownSetIDs() []uint64 {
	ids := make([]uint64, 0, len(m.bySet))
	for id := range m.bySet {
		ids = append(ids, id)
	}
	return ids
}

// ResolveChain walks a set's Start-packet parent links back to the root,
// returning the chain ordered root-first, [root, ..., setID]. A set with no
// Start packet, or whose ParentSetID is 0, is its own root.
func (m *Manager) ResolveChain(setID uint64) []uint64 {
	chain := []uint64{setID}
	seen := map[uint64]bool{setID: true}
	cur := setID
	for {
		sb, ok := m.starts[cur]
		if !ok || sb.ParentSetID == 0 || seen[sb.ParentSetID] {
			break
		}
		cur = sb.ParentSetID
		chain = append(chain, cur)
		seen[cur] = true
	}
	// reverse into root-first order
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Descendants returns every known SetID whose resolved chain passes
// through root, root included.
func (m *Manager) Descendants(root uint64) []uint64 {
	var out []uint64
	for _, id := range m.KnownSetIDs() {
		chain := m.ResolveChain(id)
		for _, c := range chain {
			if c == root {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// Prune discards every packet whose SetID does not fall within keepRoot's
// family (its ancestors and descendants), leaving only the sets relevant to
// the repair or verify operation in progress: a directory scan routinely
// turns up unrelated PAR3 sets dropped next to the one being worked on.
func (m *Manager) Prune(keepRoot uint64) {
	keep := make(map[uint64]bool)
	for _, id := range m.Descendants(keepRoot) {
		keep[id] = true
	}
	for _, id := range m.ResolveChain(keepRoot) {
		keep[id] = true
	}

	for id := range m.bySet {
		if !keep[id] {
			delete(m.bySet, id)
			delete(m.starts, id)
		}
	}
	total := 0
	for h, entries := range m.byHash {
		filtered := entries[:0]
		for _, e := range entries {
			if keep[e.packet.SetID] {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) == 0 {
			delete(m.byHash, h)
		} else {
			m.byHash[h] = filtered
			total += len(filtered)
		}
	}
	m.count = total
}
