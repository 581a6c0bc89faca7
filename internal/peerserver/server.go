// Package peerserver implements the HTTP-side counterpart of
// peertransport.HTTPPeer: the "/get" wire protocol of spec.md §6 that lets
// a peer replica answer getVersions/getFingerprint/getUpdates/
// checkCanHandleVersionRanges requests against this shard's own log and
// fingerprint core.
package peerserver

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/shardcore/updatecore/internal/fingerprint"
	"github.com/shardcore/updatecore/internal/updatelog"
)

// ActiveChecker reports whether the shard is currently ACTIVE, consulted
// when a request carries onlyIfActive=true.
type ActiveChecker interface {
	Active() bool
}

// Server answers peer-sync RPCs for one shard's log and fingerprint core.
type Server struct {
	log    updatelog.Log
	core   fingerprint.Core
	active ActiveChecker
	logger logrus.FieldLogger
}

func New(log updatelog.Log, core fingerprint.Core, active ActiveChecker, logger logrus.FieldLogger) *Server {
	return &Server{log: log, core: core, active: active, logger: logger.WithField("component", "peer_server")}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("qt") != "/get" {
		http.NotFound(w, r)
		return
	}
	if q.Get("onlyIfActive") == "true" && s.active != nil && !s.active.Active() {
		http.Error(w, "shard not active", http.StatusServiceUnavailable)
		return
	}

	switch {
	case q.Has("getFingerprint"):
		s.handleFingerprint(w, q)
	case q.Has("getVersions"):
		s.handleVersions(w, q)
	case q.Has("checkCanHandleVersionRanges"):
		s.handleCapability(w)
	case q.Has("getUpdates"):
		s.handleUpdates(w, q)
	default:
		http.Error(w, "no recognized query type", http.StatusBadRequest)
	}
}

func (s *Server) handleFingerprint(w http.ResponseWriter, q map[string][]string) {
	maxVersion, _ := strconv.ParseInt(first(q, "getFingerprint"), 10, 64)
	fp := fingerprint.Compute(s.core, maxVersion)
	writeJSON(w, wireFingerprintFrom(fp))
}

func (s *Server) handleVersions(w http.ResponseWriter, q map[string][]string) {
	n, _ := strconv.Atoi(first(q, "getVersions"))
	records, err := s.log.GetRecentUpdates(n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	versions := make([]int64, 0, len(records))
	var maxVersion int64
	for _, rec := range records {
		v := int64(rec.Version)
		versions = append(versions, v)
		if a := rec.Version.Abs(); a > maxVersion {
			maxVersion = a
		}
	}

	out := struct {
		Versions    []int64          `json:"versions"`
		Fingerprint *wireFingerprint `json:"fingerprint,omitempty"`
	}{Versions: versions}

	if first(q, "fingerprint") == "true" {
		fp := wireFingerprintFrom(fingerprint.Compute(s.core, maxVersion))
		out.Fingerprint = &fp
	}
	writeJSON(w, out)
}

func (s *Server) handleCapability(w http.ResponseWriter) {
	writeJSON(w, struct {
		CanHandleRanges bool `json:"canHandleVersionRanges"`
	}{CanHandleRanges: true})
}

func (s *Server) handleUpdates(w http.ResponseWriter, q map[string][]string) {
	spec := first(q, "getUpdates")
	versions, ranges := parseUpdatesSpec(spec)

	wanted := make(map[int64]bool, len(versions))
	for _, v := range versions {
		wanted[v] = true
	}

	records, err := s.log.GetRecentUpdates(-1)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var out []wireUpdate
	var maxVersion int64
	for _, rec := range records {
		v := int64(rec.Version)
		if a := rec.Version.Abs(); a > maxVersion {
			maxVersion = a
		}
		if wanted[v] || inAnyRange(v, ranges) {
			u, err := toWireUpdate(rec)
			if err != nil {
				s.logger.WithError(err).Warn("skipping record that failed to encode for getUpdates")
				continue
			}
			out = append(out, u)
		}
	}

	resp := struct {
		Updates     []wireUpdate     `json:"updates"`
		Fingerprint *wireFingerprint `json:"fingerprint,omitempty"`
	}{Updates: out}
	if first(q, "fingerprint") == "true" {
		fp := wireFingerprintFrom(fingerprint.Compute(s.core, maxVersion))
		resp.Fingerprint = &fp
	}
	writeJSON(w, resp)
}

func inAnyRange(v int64, ranges [][2]int64) bool {
	for _, r := range ranges {
		if v >= r[0] && v <= r[1] {
			return true
		}
	}
	return false
}

// parseUpdatesSpec decodes a "csv of versions or lo...hi ranges" string
// per spec.md §4.D's getUpdates protocol entry.
func parseUpdatesSpec(spec string) (versions []int64, ranges [][2]int64) {
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "..."); ok {
			loV, err1 := strconv.ParseInt(lo, 10, 64)
			hiV, err2 := strconv.ParseInt(hi, 10, 64)
			if err1 == nil && err2 == nil {
				ranges = append(ranges, [2]int64{loV, hiV})
			}
			continue
		}
		if v, err := strconv.ParseInt(part, 10, 64); err == nil {
			versions = append(versions, v)
		}
	}
	return versions, ranges
}

func first(q map[string][]string, key string) string {
	if vs, ok := q[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type wireFingerprint struct {
	MaxVersion int64  `json:"maxVersion"`
	Digest     string `json:"digest"`
}

func wireFingerprintFrom(fp fingerprint.Fingerprint) wireFingerprint {
	return wireFingerprint{MaxVersion: fp.MaxVersion, Digest: base64.StdEncoding.EncodeToString(fp.Digest[:])}
}

type wireUpdate struct {
	Version int64           `json:"version"`
	Code    string          `json:"code"`
	Key     string          `json:"key,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

func toWireUpdate(rec updatelog.Record) (wireUpdate, error) {
	u := wireUpdate{Version: int64(rec.Version), Key: string(rec.Key)}

	var payload interface{}
	switch rec.Op {
	case updatelog.OpAdd:
		u.Code = "ADD"
		payload = rec.Doc.Fields
	case updatelog.OpDelete:
		u.Code = "DELETE"
	case updatelog.OpDeleteByQuery:
		u.Code = "DELETE_BY_QUERY"
		payload = rec.Query
	case updatelog.OpUpdateInPlace:
		u.Code = "UPDATE_INPLACE"
		payload = rec.Fields
	default:
		return wireUpdate{}, errUnknownOp(rec.Op)
	}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return wireUpdate{}, err
		}
		u.Payload = raw
	}
	return u, nil
}

type errUnknownOp updatelog.Op

func (e errUnknownOp) Error() string {
	return "peer server: unknown update op " + strconv.Itoa(int(e))
}
