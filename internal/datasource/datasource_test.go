package datasource

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericcug/dashcore/internal/bandwidth"
)

func TestHTTPDataSource_OpenFetchesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("segment-bytes"))
	}))
	defer srv.Close()

	ds := New(nil)
	rc, err := ds.Open(context.Background(), Spec{URI: srv.URL, Start: 0, Length: -1})
	require.NoError(t, err)
	defer rc.Close()

	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "segment-bytes", string(body))
}

func TestHTTPDataSource_SendsRangeHeader(t *testing.T) {
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	ds := New(nil)
	rc, err := ds.Open(context.Background(), Spec{URI: srv.URL, Start: 100, Length: 50})
	require.NoError(t, err)
	rc.Close()

	assert.Equal(t, "bytes=100-149", gotRange)
}

func TestHTTPDataSource_SetBearerTokenAddsAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	ds := New(nil)
	ds.SetBearerToken("abc123")
	rc, err := ds.Open(context.Background(), Spec{URI: srv.URL, Length: -1})
	require.NoError(t, err)
	rc.Close()

	assert.Equal(t, "Bearer abc123", gotAuth)
}

func TestHTTPDataSource_ErrorStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	ds := New(nil)
	_, err := ds.Open(context.Background(), Spec{URI: srv.URL, Length: -1})
	assert.Error(t, err)
}

func TestHTTPDataSource_FollowsRedirectAndCapturesResolvedURI(t *testing.T) {
	var final *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("done"))
	})
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL+"/final", http.StatusFound)
	})
	final = httptest.NewServer(mux)
	defer final.Close()

	ds := New(nil)
	rc, err := ds.Open(context.Background(), Spec{URI: final.URL + "/start", Length: -1})
	require.NoError(t, err)
	defer rc.Close()

	body, _ := io.ReadAll(rc)
	assert.Equal(t, "done", string(body))
	assert.Equal(t, final.URL+"/final", ds.ResolvedURI)
}

func TestHTTPDataSource_MetersBytesOnClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 1000))
	}))
	defer srv.Close()

	m := bandwidth.New(nil)
	ds := New(m)
	rc, err := ds.Open(context.Background(), Spec{URI: srv.URL, Length: -1})
	require.NoError(t, err)

	_, _ = io.ReadAll(rc)
	require.NoError(t, rc.Close())

	assert.Equal(t, int64(1000), m.TotalBytes())
}

func TestRangeHeader_OpenEndedLength(t *testing.T) {
	h := rangeHeader(Spec{Start: 10, Length: -1})
	assert.Equal(t, "bytes=10-", h)
}
