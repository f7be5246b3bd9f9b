package protocol

import (
	"cmp"
	"maps"
	"net/netip"
	"slices"
)

// Collections keyed by an ordered type are always emitted in ascending key
// order so that one logical set has exactly one encoding.

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}

// canonicalAddrs maps every endpoint through norm, drops the duplicates
// that creates and sorts the rest. Keys that differ only in a form the wire
// cannot carry thus encode once and in order.
func canonicalAddrs(set map[netip.AddrPort]struct{}, norm func(netip.Addr) netip.Addr) []netip.AddrPort {
	seen := make(map[netip.AddrPort]struct{}, len(set))
	for ap := range set {
		seen[netip.AddrPortFrom(norm(ap.Addr()), ap.Port())] = struct{}{}
	}
	addrs := slices.Collect(maps.Keys(seen))
	slices.SortFunc(addrs, netip.AddrPort.Compare)
	return addrs
}

// sizeHint caps a wire-supplied element count by what the remaining input
// could possibly hold, so a forged count cannot force a large allocation.
func sizeHint(r *Reader, n, minEntrySize int) int {
	if maxEntries := r.Remaining() / minEntrySize; n > maxEntries {
		return maxEntries
	}
	return n
}
