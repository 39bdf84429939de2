package client_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/st3v3nmw/faultline/internal/client"
	"github.com/st3v3nmw/faultline/internal/cluster"
	"github.com/st3v3nmw/faultline/internal/history"
)

func serve(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return strings.TrimPrefix(server.URL, "http://")
}

func TestHTTPRequests(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	addr := serve(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, r.Method+" "+r.URL.Path+" "+string(body))
		mu.Unlock()

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/kv/r1":
			w.Write([]byte(`{"value": 42}`))
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case r.URL.Path == "/kv/r1/cas" && gjson.GetBytes(body, "old").Int() != 42:
			w.WriteHeader(http.StatusPreconditionFailed)
			w.Write([]byte(`{"error": {"code": "precondition_failed", "message": "value is 42"}}`))
		case r.URL.Path == "/validators" && gjson.GetBytes(body, "version").Int() != 7:
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error": {"code": "version_mismatch", "message": "at version 7"}}`))
		default:
			w.WriteHeader(http.StatusOK)
		}
	})

	c := client.NewHTTP(map[cluster.Node]string{"n1": addr}, time.Second)
	ctx := context.Background()

	value, found, err := c.Read(ctx, "n1", "r1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(42), value)

	_, found, err = c.Read(ctx, "n1", "r2")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, c.Write(ctx, "n1", "r1", 3))
	require.NoError(t, c.CompareAndSwap(ctx, "n1", "r1", 42, 43))

	err = c.CompareAndSwap(ctx, "n1", "r1", 1, 2)
	require.True(t, errors.Is(err, client.ErrPrecondition))
	require.Equal(t, history.Fail, client.Classify(history.CAS, err))

	require.NoError(t, c.ValidatorSetCAS(ctx, "n1", 7, "abc", 2))
	err = c.ValidatorSetCAS(ctx, "n1", 6, "abc", 2)
	require.True(t, errors.Is(err, client.ErrPrecondition))

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, got, `PUT /kv/r1 {"value":3}`)
	require.Contains(t, got, `POST /validators {"pub_key":"abc","version":7,"votes":2}`)
}

func TestHTTPErrors(t *testing.T) {
	refusedAddr := func(t *testing.T) string {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := listener.Addr().String()
		listener.Close()
		return addr
	}

	tests := []struct {
		name    string
		addr    func(t *testing.T) string
		node    cluster.Node
		wantErr error
		write   history.Type
		read    history.Type
	}{
		{
			name: "Unauthorized",
			addr: func(t *testing.T) string {
				return serve(t, func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusUnauthorized)
				})
			},
			wantErr: client.ErrUnauthorized,
			write:   history.Fail,
			read:    history.Fail,
		},
		{
			name: "Address Unknown Body",
			addr: func(t *testing.T) string {
				return serve(t, func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusBadRequest)
					w.Write([]byte(`{"error": {"code": "address_unknown", "message": "no such validator"}}`))
				})
			},
			wantErr: client.ErrAddressUnknown,
			write:   history.Fail,
			read:    history.Fail,
		},
		{
			name:    "Unknown Node",
			addr:    func(t *testing.T) string { return "127.0.0.1:1" },
			node:    "n9",
			wantErr: client.ErrAddressUnknown,
			write:   history.Fail,
			read:    history.Fail,
		},
		{
			name:    "Connection Refused",
			addr:    refusedAddr,
			wantErr: client.ErrConnectionRefused,
			write:   history.Fail,
			read:    history.Fail,
		},
		{
			name: "Timeout",
			addr: func(t *testing.T) string {
				return serve(t, func(w http.ResponseWriter, r *http.Request) {
					time.Sleep(300 * time.Millisecond)
				})
			},
			wantErr: client.ErrTimeout,
			write:   history.Info,
			read:    history.Fail,
		},
		{
			name: "No Response",
			addr: func(t *testing.T) string {
				return serve(t, func(w http.ResponseWriter, r *http.Request) {
					conn, _, err := w.(http.Hijacker).Hijack()
					if err == nil {
						conn.Close()
					}
				})
			},
			wantErr: client.ErrNoResponse,
			write:   history.Info,
			read:    history.Fail,
		},
		{
			name: "Server Error",
			addr: func(t *testing.T) string {
				return serve(t, func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusInternalServerError)
				})
			},
			write: history.Info,
			read:  history.Fail,
		},
		{
			name: "Server Reports Refused Upstream",
			addr: func(t *testing.T) string {
				return serve(t, func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte(`{"error": {"message": "dial tcp 127.0.0.1:26658: connect: connection refused"}}`))
				})
			},
			write: history.Info,
			read:  history.Fail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := tt.node
			if node == "" {
				node = "n1"
			}

			c := client.NewHTTP(map[cluster.Node]string{"n1": tt.addr(t)}, 100*time.Millisecond)

			err := c.Write(context.Background(), node, "r1", 1)
			require.Error(t, err)
			if tt.wantErr != nil {
				require.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			}
			require.Equal(t, tt.write, client.Classify(history.Write, err))

			_, _, err = c.Read(context.Background(), node, "r1")
			require.Error(t, err)
			require.Equal(t, tt.read, client.Classify(history.Read, err))
		})
	}
}
