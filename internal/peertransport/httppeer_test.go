package peertransport

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardcore/updatecore/internal/updatelog"
)

func noBackoff() backoff.BackOff { return &backoff.StopBackOff{} }

func TestGetVersionsDecodesWireResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("getVersions"))
		assert.Equal(t, "true", r.URL.Query().Get("fingerprint"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"versions":[3,2,1],"fingerprint":{"maxVersion":3,"digest":"` +
			base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")) + `"}}`))
	}))
	defer srv.Close()

	peer := NewHTTPPeer("peer-1", srv.URL, nil)
	resp, err := peer.GetVersions(context.Background(), 7, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1}, resp.Versions)
	require.NotNil(t, resp.Fingerprint)
	assert.Equal(t, int64(3), resp.Fingerprint.MaxVersion)
}

func TestGetUpdatesDecodesAddAndDeleteRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5,6", r.URL.Query().Get("getUpdates"))
		assert.Equal(t, "true", r.URL.Query().Get("peersync"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"updates":[
			{"version":5,"code":"ADD","key":"A5","payload":{"id":"A5"}},
			{"version":6,"code":"DELETE","key":"A6","payload":null}
		]}`))
	}))
	defer srv.Close()

	peer := NewHTTPPeer("peer-1", srv.URL, nil)
	spec := UpdatesSpec{Versions: []int64{5, 6}}
	resp, err := peer.GetUpdates(context.Background(), spec, false)
	require.NoError(t, err)
	require.Len(t, resp.Records, 2)

	assert.Equal(t, updatelog.OpAdd, resp.Records[0].Op)
	assert.Equal(t, "A5", string(resp.Records[0].Key))
	assert.Equal(t, updatelog.OpDelete, resp.Records[1].Op)
	assert.Equal(t, "A6", string(resp.Records[1].Key))
}

func TestGetUpdatesEncodesRangesAndVersionsTogether(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "9,1...4", r.URL.Query().Get("getUpdates"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"updates":[]}`))
	}))
	defer srv.Close()

	peer := NewHTTPPeer("peer-1", srv.URL, nil)
	spec := UpdatesSpec{Versions: []int64{9}, Ranges: []VersionRange{{Lo: 1, Hi: 4}}}
	_, err := peer.GetUpdates(context.Background(), spec, false)
	require.NoError(t, err)
}

func TestDoGetClassifiesHTTP503AsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	peer := NewHTTPPeer("peer-1", srv.URL, &http.Client{Timeout: time.Second})
	peer.backoff = noBackoff
	_, err := peer.GetVersions(context.Background(), 1, false)
	require.Error(t, err)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.True(t, terr.Class.IsUnreachable())
	assert.Equal(t, ErrorClassHTTP503, terr.Class)
}

func TestDoGetClassifiesHTTP400AsPermanentOther(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	peer := NewHTTPPeer("peer-1", srv.URL, nil)
	peer.backoff = noBackoff
	_, err := peer.GetVersions(context.Background(), 1, false)
	require.Error(t, err)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.False(t, terr.Class.IsUnreachable())
	assert.Equal(t, ErrorClassOther, terr.Class)
}

func TestCheckCanHandleVersionRanges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("checkCanHandleVersionRanges"))
		w.Write([]byte(`{"canHandleVersionRanges":true}`))
	}))
	defer srv.Close()

	peer := NewHTTPPeer("peer-1", srv.URL, nil)
	ok, err := peer.CheckCanHandleVersionRanges(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetFingerprintDecodesDigest(t *testing.T) {
	digest := make([]byte, 32)
	copy(digest, []byte("grounded-fingerprint-bytes-here"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("getFingerprint"))
		w.Write([]byte(`{"maxVersion":10,"digest":"` + base64.StdEncoding.EncodeToString(digest) + `"}`))
	}))
	defer srv.Close()

	peer := NewHTTPPeer("peer-1", srv.URL, nil)
	fp, err := peer.GetFingerprint(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), fp.MaxVersion)
	assert.EqualValues(t, digest, fp.Digest[:])
}

func TestOnlyIfActiveSetsQueryParam(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("onlyIfActive"))
		w.Write([]byte(`{"versions":[]}`))
	}))
	defer srv.Close()

	peer := NewHTTPPeer("peer-1", srv.URL, nil)
	peer.OnlyIfActive = true
	_, err := peer.GetVersions(context.Background(), 1, false)
	require.NoError(t, err)
}
