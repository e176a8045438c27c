package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/clusterkit/segmentpool/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type mockHttpClient struct {
	t *testing.T

	do func(req *http.Request) (*http.Response, error)

	calls int
}

func (m *mockHttpClient) Do(req *http.Request) (*http.Response, error) {
	m.t.Helper()
	m.calls++
	return m.do(req)
}

func jsonResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
	}
}

func newTestClient(t *testing.T, httpClient *mockHttpClient) *Client {
	t.Helper()
	pools := NewPools(4, 2, time.Second, 10*time.Second, nil)
	return NewClient(httpClient, "https://inventory.internal", "sekrit", rate.NewLimiter(rate.Inf, 0), pools)
}

func TestClientListSegments(t *testing.T) {
	t.Parallel()

	t.Run("builds query and parses results", func(t *testing.T) {
		t.Parallel()

		httpClient := &mockHttpClient{t: t}
		httpClient.do = func(req *http.Request) (*http.Response, error) {
			require.Equal(t, http.MethodGet, req.Method)
			require.Equal(t, "inventory.internal", req.URL.Host)
			require.Equal(t, "/api/v1/segments", req.URL.Path)
			require.Equal(t, "Token sekrit", req.Header.Get("Authorization"))

			query := req.URL.Query()
			require.Equal(t, "osl1", query.Get("site"))
			require.Equal(t, "storage", query.Get("network"))
			require.Equal(t, "true", query.Get("unowned"))
			require.Equal(t, "available", query.Get("status"))

			return jsonResponse(200, `{
				"count": 2,
				"results": [
					{"id": 11, "vid": 30, "prefix": "10.0.30.0/24", "site": "osl1", "network": "storage", "owner": "", "status": "available"},
					{"id": 12, "vid": 12, "prefix": "10.0.12.0/24", "site": "osl1", "network": "storage", "owner": "", "status": "available"}
				]
			}`), nil
		}

		client := newTestClient(t, httpClient)

		status := domain.SegmentStatusAvailable
		segments, err := client.ListSegments(context.Background(), SegmentFilter{
			Scope:   &domain.Scope{Site: "osl1", Network: "storage"},
			Unowned: true,
			Status:  &status,
		})
		require.NoError(t, err)
		require.Len(t, segments, 2)
		require.Equal(t, 30, segments[0].VID)
		require.Equal(t, 12, segments[1].VID)
		require.Equal(t, domain.Scope{Site: "osl1", Network: "storage"}, segments[0].Scope)
	})

	t.Run("network error is transient", func(t *testing.T) {
		t.Parallel()

		httpClient := &mockHttpClient{t: t}
		httpClient.do = func(req *http.Request) (*http.Response, error) {
			return nil, assert.AnError
		}

		client := newTestClient(t, httpClient)

		_, err := client.ListSegments(context.Background(), SegmentFilter{})
		require.ErrorIs(t, err, domain.ErrTemporarilyUnavailable)
	})

	t.Run("throttling and server errors are transient", func(t *testing.T) {
		t.Parallel()

		for _, statusCode := range []int{429, 500, 502, 503} {
			httpClient := &mockHttpClient{t: t}
			httpClient.do = func(req *http.Request) (*http.Response, error) {
				return jsonResponse(statusCode, `{}`), nil
			}

			client := newTestClient(t, httpClient)

			_, err := client.ListSegments(context.Background(), SegmentFilter{})
			require.ErrorIs(t, err, domain.ErrTemporarilyUnavailable, "status %d", statusCode)
		}
	})
}

func TestClientGetSegment(t *testing.T) {
	t.Parallel()

	t.Run("found", func(t *testing.T) {
		t.Parallel()

		httpClient := &mockHttpClient{t: t}
		httpClient.do = func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "/api/v1/segments/11", req.URL.Path)
			return jsonResponse(200, `{"id": 11, "vid": 30, "site": "osl1", "network": "storage", "owner": "cluster-a", "status": "reserved"}`), nil
		}

		client := newTestClient(t, httpClient)

		segment, err := client.GetSegment(context.Background(), 11)
		require.NoError(t, err)
		require.Equal(t, "cluster-a", segment.Owner)
		require.NoError(t, segment.Validate())
	})

	t.Run("missing segment maps to domain sentinel", func(t *testing.T) {
		t.Parallel()

		httpClient := &mockHttpClient{t: t}
		httpClient.do = func(req *http.Request) (*http.Response, error) {
			return jsonResponse(404, `{"detail": "Not found."}`), nil
		}

		client := newTestClient(t, httpClient)

		_, err := client.GetSegment(context.Background(), 999)
		require.ErrorIs(t, err, domain.ErrSegmentNotFound)
	})
}

func TestClientUpdateSegment(t *testing.T) {
	t.Parallel()

	t.Run("sends only the set fields", func(t *testing.T) {
		t.Parallel()

		allocatedAt := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

		httpClient := &mockHttpClient{t: t}
		httpClient.do = func(req *http.Request) (*http.Response, error) {
			require.Equal(t, http.MethodPatch, req.Method)
			require.Equal(t, "/api/v1/segments/11", req.URL.Path)
			require.Equal(t, "application/json", req.Header.Get("Content-Type"))

			body, err := io.ReadAll(req.Body)
			require.NoError(t, err)

			var payload map[string]any
			require.NoError(t, json.Unmarshal(body, &payload))
			require.Equal(t, map[string]any{
				"owner":        "cluster-a",
				"status":       "reserved",
				"allocated_at": "2025-03-01T12:00:00Z",
			}, payload)

			return jsonResponse(200, `{"id": 11, "vid": 30, "site": "osl1", "network": "storage", "owner": "cluster-a", "status": "reserved"}`), nil
		}

		client := newTestClient(t, httpClient)

		owner := "cluster-a"
		status := domain.SegmentStatusReserved
		segment, err := client.UpdateSegment(context.Background(), 11, SegmentFields{
			Owner:       &owner,
			Status:      &status,
			AllocatedAt: &allocatedAt,
		})
		require.NoError(t, err)
		require.Equal(t, domain.SegmentStatusReserved, segment.Status)
	})

	t.Run("conflict maps to domain sentinel", func(t *testing.T) {
		t.Parallel()

		httpClient := &mockHttpClient{t: t}
		httpClient.do = func(req *http.Request) (*http.Response, error) {
			return jsonResponse(409, `{"detail": "stale update"}`), nil
		}

		client := newTestClient(t, httpClient)

		owner := "cluster-a"
		_, err := client.UpdateSegment(context.Background(), 11, SegmentFields{Owner: &owner})
		require.ErrorIs(t, err, domain.ErrConflict)
	})
}

func TestClientReferences(t *testing.T) {
	t.Parallel()

	t.Run("find hits the kind endpoint", func(t *testing.T) {
		t.Parallel()

		httpClient := &mockHttpClient{t: t}
		httpClient.do = func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "/api/v1/tenants", req.URL.Path)
			require.Equal(t, "cluster-a", req.URL.Query().Get("name"))
			return jsonResponse(200, `{"count": 1, "results": [{"id": 7, "name": "cluster-a"}]}`), nil
		}

		client := newTestClient(t, httpClient)

		ref, err := client.FindReference(context.Background(), domain.ReferenceKindTenant, "cluster-a")
		require.NoError(t, err)
		require.Equal(t, domain.Reference{Kind: domain.ReferenceKindTenant, ID: 7, Name: "cluster-a"}, ref)
	})

	t.Run("empty result maps to reference not found", func(t *testing.T) {
		t.Parallel()

		httpClient := &mockHttpClient{t: t}
		httpClient.do = func(req *http.Request) (*http.Response, error) {
			return jsonResponse(200, `{"count": 0, "results": []}`), nil
		}

		client := newTestClient(t, httpClient)

		_, err := client.FindReference(context.Background(), domain.ReferenceKindRole, "cluster-vlan")
		require.ErrorIs(t, err, domain.ErrReferenceNotFound)
	})

	t.Run("create posts to the kind endpoint", func(t *testing.T) {
		t.Parallel()

		httpClient := &mockHttpClient{t: t}
		httpClient.do = func(req *http.Request) (*http.Response, error) {
			require.Equal(t, http.MethodPost, req.Method)
			require.Equal(t, "/api/v1/site-groups", req.URL.Path)

			body, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			require.JSONEq(t, `{"name": "osl1-fabric"}`, string(body))

			return jsonResponse(201, `{"id": 3, "name": "osl1-fabric"}`), nil
		}

		client := newTestClient(t, httpClient)

		ref, err := client.CreateReference(context.Background(), domain.ReferenceKindSiteGroup, "osl1-fabric")
		require.NoError(t, err)
		require.Equal(t, 3, ref.ID)
	})

	t.Run("unknown kind is a programming error", func(t *testing.T) {
		t.Parallel()

		httpClient := &mockHttpClient{t: t}
		client := newTestClient(t, httpClient)

		_, err := client.FindReference(context.Background(), domain.ReferenceKind("rack"), "r1")
		require.Error(t, err)
		require.Zero(t, httpClient.calls)
	})
}
