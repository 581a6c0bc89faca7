// Package peertransport declares the contract of the shard-RPC transport
// Peer Sync uses to reach a peer replica, an external collaborator named
// only by its interface per spec.md §1, plus an HTTP reference client that
// speaks the wire parameters of spec.md §6.
package peertransport

import (
	"context"

	"github.com/shardcore/updatecore/internal/fingerprint"
	"github.com/shardcore/updatecore/internal/updatelog"
)

// VersionsResponse is the decoded result of a getVersions request.
type VersionsResponse struct {
	Versions    []int64
	Fingerprint *fingerprint.Fingerprint // present only when fingerprint=true was requested
}

// UpdatesSpec describes what to fetch with getUpdates: a csv of individual
// versions and/or a set of "lo...hi" ranges. Peer Sync fills one or the
// other; when both are set, the versions are encoded first, then the
// ranges.
type UpdatesSpec struct {
	Versions []int64
	Ranges   []VersionRange
}

// VersionRange is one inclusive "lo...hi" range in a getUpdates request.
type VersionRange struct {
	Lo, Hi int64
}

// UpdatesResponse is the decoded result of a getUpdates request.
type UpdatesResponse struct {
	Records     []updatelog.Record
	Fingerprint *fingerprint.Fingerprint
}

// Peer is the RPC surface Peer Sync needs from one remote replica.
type Peer interface {
	// Name identifies the peer for logging and deferred fingerprint bookkeeping.
	Name() string

	GetFingerprint(ctx context.Context, maxVersion int64) (fingerprint.Fingerprint, error)
	GetVersions(ctx context.Context, n int, withFingerprint bool) (VersionsResponse, error)
	CheckCanHandleVersionRanges(ctx context.Context) (bool, error)
	GetUpdates(ctx context.Context, spec UpdatesSpec, withFingerprint bool) (UpdatesResponse, error)
}

// ErrorClass categorizes a transport failure for the "cantReachIsSuccess"
// rule in spec.md §4.D step 6.
type ErrorClass int

const (
	ErrorClassOther ErrorClass = iota
	ErrorClassConnectRefused
	ErrorClassConnectTimeout
	ErrorClassNoHTTPResponse
	ErrorClassSocket
	ErrorClassHTTP503
	ErrorClassHTTP404
)

// IsUnreachable reports whether c is one of the "peer could not be reached"
// classes spec.md §4.D treats as eligible for cantReachIsSuccess.
func (c ErrorClass) IsUnreachable() bool {
	switch c {
	case ErrorClassConnectRefused, ErrorClassConnectTimeout, ErrorClassNoHTTPResponse,
		ErrorClassSocket, ErrorClassHTTP503, ErrorClassHTTP404:
		return true
	default:
		return false
	}
}

// TransportError wraps a Peer RPC failure with its classification.
type TransportError struct {
	Peer  string
	Class ErrorClass
	Cause error
}

func (e *TransportError) Error() string {
	return "peer " + e.Peer + ": " + e.Cause.Error()
}

func (e *TransportError) Unwrap() error { return e.Cause }
