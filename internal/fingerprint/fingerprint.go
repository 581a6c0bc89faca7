// Package fingerprint declares the contract of the Index Fingerprint
// (spec.md §1): a summarizable digest of committed content for a version
// ceiling, plus an in-memory reference implementation for tests.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/shardcore/updatecore/internal/updatemodel"
)

// Fingerprint is a deterministic digest over all document versions at or
// below MaxVersion. Equal fingerprints imply identical visible state up
// to MaxVersion (see GLOSSARY in spec.md).
type Fingerprint struct {
	MaxVersion int64
	Digest     [32]byte
}

func (f Fingerprint) Equals(other Fingerprint) bool {
	return f.Digest == other.Digest
}

// Core is the minimal surface the fingerprint computation needs from the
// shard: the set of (key, version) pairs currently visible.
type Core interface {
	VisibleVersions() map[updatemodel.Key]int64
}

// Compute builds a Fingerprint over core's visible (key, version) pairs
// whose version is <= maxVersion. A negative maxVersion includes every
// pair (an unbounded fingerprint).
func Compute(core Core, maxVersion int64) Fingerprint {
	all := core.VisibleVersions()
	keys := make([]string, 0, len(all))
	for k, v := range all {
		if maxVersion >= 0 && v > maxVersion {
			continue
		}
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	h := sha256.New()
	var buf [8]byte
	for _, k := range keys {
		h.Write([]byte(k))
		binary.BigEndian.PutUint64(buf[:], uint64(all[updatemodel.Key(k)]))
		h.Write(buf[:])
	}

	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return Fingerprint{MaxVersion: maxVersion, Digest: digest}
}
