package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lgulliver/revvault/pkg/config"
	"github.com/lgulliver/revvault/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBundleURL(t *testing.T) {
	c := NewClientWithHTTP("https://apigee.example.com/", nil)

	tests := []struct {
		name     string
		org      string
		kind     types.Kind
		artifact string
		revision string
		expected string
	}{
		{
			name:     "proxy",
			org:      "acme",
			kind:     types.KindProxy,
			artifact: "orders",
			revision: "3",
			expected: "https://apigee.example.com/v1/organizations/acme/apis/orders/revisions/3?format=bundle",
		},
		{
			name:     "shared flow",
			org:      "acme",
			kind:     types.KindSharedFlow,
			artifact: "auth",
			revision: "12",
			expected: "https://apigee.example.com/v1/organizations/acme/sharedflows/auth/revisions/12?format=bundle",
		},
		{
			name:     "name is escaped",
			org:      "acme",
			kind:     types.KindProxy,
			artifact: "a b/c",
			revision: "1",
			expected: "https://apigee.example.com/v1/organizations/acme/apis/a%20b%2Fc/revisions/1?format=bundle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, c.BundleURL(tt.org, tt.kind, tt.artifact, tt.revision))
		})
	}
}

func TestFetchRevisionBundle(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("PK-bundle"))
	}))
	defer server.Close()

	c, err := NewClient(context.Background(), &config.UpstreamConfig{
		BaseURL: server.URL,
		Token:   "test-token",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)

	buf, err := c.FetchRevisionBundle(context.Background(), "acme", types.KindProxy, "orders", "3")
	require.NoError(t, err)
	assert.Equal(t, []byte("PK-bundle"), buf)
	assert.Equal(t, "/v1/organizations/acme/apis/orders/revisions/3", gotPath)
	assert.Equal(t, "format=bundle", gotQuery)
	assert.Equal(t, "Bearer test-token", gotAuth)
}

func TestFetchRevisionBundle_NonSuccessStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		expect string
	}{
		{name: "not found", status: http.StatusNotFound, body: `{"error":{"message":"revision not found"}}`, expect: "revision not found"},
		{name: "forbidden without body", status: http.StatusForbidden, expect: "403 Forbidden"},
		{name: "server error", status: http.StatusBadGateway, body: "upstream down", expect: "unexpected status 502"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewClientWithHTTP(server.URL, server.Client())
			buf, err := c.FetchRevisionBundle(context.Background(), "acme", types.KindSharedFlow, "auth", "1")
			require.Error(t, err)
			assert.Nil(t, buf)
			assert.Contains(t, err.Error(), tt.expect)
		})
	}
}

func TestFetchRevisionBundle_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("never read"))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClientWithHTTP(server.URL, server.Client())
	_, err := c.FetchRevisionBundle(ctx, "acme", types.KindProxy, "orders", "1")
	assert.ErrorIs(t, err, context.Canceled)
}
