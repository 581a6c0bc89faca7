package peertransport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/shardcore/updatecore/internal/fingerprint"
	"github.com/shardcore/updatecore/internal/updatelog"
	"github.com/shardcore/updatecore/internal/updatemodel"
)

// HTTPPeer is the reference Peer implementation: it speaks the "/get"
// handler wire parameters of spec.md §6 (qt, distrib, getVersions,
// getFingerprint, getUpdates, fingerprint, checkCanHandleVersionRanges,
// onlyIfActive, peersync) over plain HTTP+JSON.
type HTTPPeer struct {
	name       string
	baseURL    string
	httpClient *http.Client
	backoff    func() backoff.BackOff

	// OnlyIfActive mirrors the onlyIfActive wire parameter: the peer
	// handler should refuse requests unless its own shard is ACTIVE.
	OnlyIfActive bool
}

// NewHTTPPeer builds an HTTPPeer addressing baseURL (e.g.
// "http://10.0.0.4:8080/shard-name"). A nil client defaults to one with a
// 10s timeout, matching the teacher's pattern of a bounded-timeout client
// for inter-node RPC.
func NewHTTPPeer(name, baseURL string, client *http.Client) *HTTPPeer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPPeer{
		name:       name,
		baseURL:    baseURL,
		httpClient: client,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 5 * time.Second
			return b
		},
	}
}

func (p *HTTPPeer) Name() string { return p.name }

func (p *HTTPPeer) GetFingerprint(ctx context.Context, maxVersion int64) (fingerprint.Fingerprint, error) {
	values := url.Values{
		"qt":             {"/get"},
		"distrib":        {"false"},
		"getFingerprint": {strconv.FormatInt(maxVersion, 10)},
	}
	if p.OnlyIfActive {
		values.Set("onlyIfActive", "true")
	}

	var out wireFingerprint
	if err := p.doGet(ctx, values, &out); err != nil {
		return fingerprint.Fingerprint{}, err
	}
	return out.toFingerprint(), nil
}

func (p *HTTPPeer) GetVersions(ctx context.Context, n int, withFingerprint bool) (VersionsResponse, error) {
	values := url.Values{
		"qt":          {"/get"},
		"distrib":     {"false"},
		"getVersions": {strconv.Itoa(n)},
	}
	if withFingerprint {
		values.Set("fingerprint", "true")
	}
	if p.OnlyIfActive {
		values.Set("onlyIfActive", "true")
	}

	var out wireVersions
	if err := p.doGet(ctx, values, &out); err != nil {
		return VersionsResponse{}, err
	}

	resp := VersionsResponse{Versions: out.Versions}
	if withFingerprint && out.Fingerprint != nil {
		fp := out.Fingerprint.toFingerprint()
		resp.Fingerprint = &fp
	}
	return resp, nil
}

func (p *HTTPPeer) CheckCanHandleVersionRanges(ctx context.Context) (bool, error) {
	values := url.Values{
		"qt":                         {"/get"},
		"distrib":                    {"false"},
		"checkCanHandleVersionRanges": {"true"},
	}

	var out struct {
		CanHandleRanges bool `json:"canHandleVersionRanges"`
	}
	if err := p.doGet(ctx, values, &out); err != nil {
		return false, err
	}
	return out.CanHandleRanges, nil
}

func (p *HTTPPeer) GetUpdates(ctx context.Context, spec UpdatesSpec, withFingerprint bool) (UpdatesResponse, error) {
	values := url.Values{
		"qt":         {"/get"},
		"distrib":    {"false"},
		"getUpdates": {encodeUpdatesSpec(spec)},
		"peersync":   {"true"},
	}
	if withFingerprint {
		values.Set("fingerprint", "true")
	}
	if p.OnlyIfActive {
		values.Set("onlyIfActive", "true")
	}

	var out wireUpdates
	if err := p.doGet(ctx, values, &out); err != nil {
		return UpdatesResponse{}, err
	}

	records := make([]updatelog.Record, 0, len(out.Updates))
	for _, u := range out.Updates {
		rec, err := u.toRecord()
		if err != nil {
			return UpdatesResponse{}, errors.Wrapf(err, "peer %s: decode update", p.name)
		}
		records = append(records, rec)
	}

	resp := UpdatesResponse{Records: records}
	if withFingerprint && out.Fingerprint != nil {
		fp := out.Fingerprint.toFingerprint()
		resp.Fingerprint = &fp
	}
	return resp, nil
}

func encodeUpdatesSpec(spec UpdatesSpec) string {
	parts := make([]string, 0, len(spec.Versions)+len(spec.Ranges))
	for _, v := range spec.Versions {
		parts = append(parts, strconv.FormatInt(v, 10))
	}
	for _, r := range spec.Ranges {
		parts = append(parts, fmt.Sprintf("%d...%d", r.Lo, r.Hi))
	}
	return strings.Join(parts, ",")
}

// doGet issues the GET, retrying transient failures with backoff before
// classifying the peer unreachable (spec.md §4.D "cantReachIsSuccess"),
// and decodes the JSON body into out.
func (p *HTTPPeer) doGet(ctx context.Context, values url.Values, out interface{}) error {
	reqURL := p.baseURL + "?" + values.Encode()

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			class := classifyNetError(err)
			if !class.IsUnreachable() {
				return backoff.Permanent(&TransportError{Peer: p.name, Class: class, Cause: err})
			}
			return &TransportError{Peer: p.name, Class: class, Cause: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusServiceUnavailable {
			return &TransportError{Peer: p.name, Class: ErrorClassHTTP503, Cause: fmt.Errorf("HTTP 503")}
		}
		if resp.StatusCode == http.StatusNotFound {
			return &TransportError{Peer: p.name, Class: ErrorClassHTTP404, Cause: fmt.Errorf("HTTP 404")}
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(&TransportError{
				Peer: p.name, Class: ErrorClassOther,
				Cause: fmt.Errorf("unexpected status %d", resp.StatusCode),
			})
		}

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(&TransportError{Peer: p.name, Class: ErrorClassNoHTTPResponse, Cause: err})
		}
		body = b
		return nil
	}

	if err := backoff.Retry(operation, p.backoff()); err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func classifyNetError(err error) ErrorClass {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorClassConnectTimeout
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return ErrorClassConnectRefused
	case strings.Contains(msg, "EOF"), strings.Contains(msg, "no response"):
		return ErrorClassNoHTTPResponse
	case strings.Contains(msg, "broken pipe"), strings.Contains(msg, "reset by peer"):
		return ErrorClassSocket
	default:
		return ErrorClassOther
	}
}

// wire* types mirror the JSON shape of the "/get" handler's responses.
// They are decode-only adapters between the wire format and the internal
// peersync/updatelog types.

type wireFingerprint struct {
	MaxVersion int64  `json:"maxVersion"`
	Digest     string `json:"digest"` // base64
}

func (w wireFingerprint) toFingerprint() fingerprint.Fingerprint {
	fp := fingerprint.Fingerprint{MaxVersion: w.MaxVersion}
	decoded, err := base64.StdEncoding.DecodeString(w.Digest)
	if err == nil {
		copy(fp.Digest[:], decoded)
	}
	return fp
}

type wireVersions struct {
	Versions    []int64          `json:"versions"`
	Fingerprint *wireFingerprint `json:"fingerprint,omitempty"`
}

type wireUpdates struct {
	Updates     []wireUpdate     `json:"updates"`
	Fingerprint *wireFingerprint `json:"fingerprint,omitempty"`
}

// wireUpdate is the "<version, code, payload>" tuple described in spec.md
// §4.D's replay table.
type wireUpdate struct {
	Version int64           `json:"version"`
	Code    string          `json:"code"` // ADD, DELETE, DELETE_BY_QUERY, UPDATE_INPLACE
	Key     string          `json:"key,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

func (u wireUpdate) toRecord() (updatelog.Record, error) {
	rec := updatelog.Record{Version: updatemodel.Version(u.Version), Key: updatemodel.Key(u.Key)}

	switch u.Code {
	case "ADD":
		rec.Op = updatelog.OpAdd
		var doc updatemodel.Doc
		if err := json.Unmarshal(u.Payload, &doc.Fields); err != nil {
			return rec, errors.Wrap(err, "decode ADD payload")
		}
		rec.Doc = doc
		rec.ID = updatemodel.IndexedID(u.Key)
	case "DELETE":
		rec.Op = updatelog.OpDelete
		rec.ID = updatemodel.IndexedID(u.Key)
	case "DELETE_BY_QUERY":
		rec.Op = updatelog.OpDeleteByQuery
		var query string
		if err := json.Unmarshal(u.Payload, &query); err != nil {
			return rec, errors.Wrap(err, "decode DELETE_BY_QUERY payload")
		}
		rec.Query = query
	case "UPDATE_INPLACE":
		rec.Op = updatelog.OpUpdateInPlace
		var fields map[string]interface{}
		if err := json.Unmarshal(u.Payload, &fields); err != nil {
			return rec, errors.Wrap(err, "decode UPDATE_INPLACE payload")
		}
		rec.Fields = fields
		rec.ID = updatemodel.IndexedID(u.Key)
	default:
		return rec, fmt.Errorf("unknown update code %q", u.Code)
	}
	return rec, nil
}
