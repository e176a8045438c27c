package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/clusterkit/segmentpool/internal/domain"
	"github.com/clusterkit/segmentpool/internal/reporting"
	"golang.org/x/time/rate"
)

const userAgent = "segmentpool/1.0"

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the inventory service's REST API. All calls go through the
// read/write pools and the client-side rate limiter; the inventory throttles
// aggressively, so we would rather queue here than get 429s there.
type Client struct {
	httpClient HttpClient
	baseURL    string
	token      string
	limiter    *rate.Limiter
	pools      *Pools
}

func NewClient(httpClient HttpClient, baseURL, token string, limiter *rate.Limiter, pools *Pools) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		token:      token,
		limiter:    limiter,
		pools:      pools,
	}
}

// Type assertion
var _ Store = (*Client)(nil)

type segmentResponse struct {
	ID          int        `json:"id"`
	VID         int        `json:"vid"`
	Prefix      string     `json:"prefix"`
	Site        string     `json:"site"`
	Network     string     `json:"network"`
	Owner       string     `json:"owner"`
	Status      string     `json:"status"`
	AllocatedAt *time.Time `json:"allocated_at"`
	Released    bool       `json:"released"`
	ReleasedAt  *time.Time `json:"released_at"`
}

func (r segmentResponse) toDomain() domain.Segment {
	return domain.Segment{
		ID:          r.ID,
		VID:         r.VID,
		Prefix:      r.Prefix,
		Scope:       domain.Scope{Site: r.Site, Network: r.Network},
		Owner:       r.Owner,
		Status:      domain.SegmentStatus(r.Status),
		AllocatedAt: r.AllocatedAt,
		Released:    r.Released,
		ReleasedAt:  r.ReleasedAt,
	}
}

type segmentListResponse struct {
	Count   int               `json:"count"`
	Results []segmentResponse `json:"results"`
}

type referenceResponse struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type referenceListResponse struct {
	Count   int                 `json:"count"`
	Results []referenceResponse `json:"results"`
}

func kindPath(kind domain.ReferenceKind) (string, error) {
	switch kind {
	case domain.ReferenceKindSite:
		return "/api/v1/sites", nil
	case domain.ReferenceKindSiteGroup:
		return "/api/v1/site-groups", nil
	case domain.ReferenceKindTenant:
		return "/api/v1/tenants", nil
	case domain.ReferenceKindRole:
		return "/api/v1/roles", nil
	default:
		return "", fmt.Errorf("unknown reference kind %q", kind)
	}
}

func (f SegmentFilter) query() url.Values {
	query := url.Values{}
	if f.Scope != nil {
		query.Set("site", f.Scope.Site)
		query.Set("network", f.Scope.Network)
	}
	if f.Owner != nil {
		query.Set("owner", *f.Owner)
	}
	if f.Unowned {
		query.Set("unowned", "true")
	}
	if f.Status != nil {
		query.Set("status", string(*f.Status))
	}
	return query
}

func (f SegmentFields) payload() map[string]any {
	payload := map[string]any{}
	if f.VID != nil {
		payload["vid"] = *f.VID
	}
	if f.Prefix != nil {
		payload["prefix"] = *f.Prefix
	}
	if f.Owner != nil {
		payload["owner"] = *f.Owner
	}
	if f.Status != nil {
		payload["status"] = string(*f.Status)
	}
	if f.AllocatedAt != nil {
		payload["allocated_at"] = f.AllocatedAt.UTC().Format(time.RFC3339)
	}
	if f.Released != nil {
		payload["released"] = *f.Released
	}
	if f.ReleasedAt != nil {
		payload["released_at"] = f.ReleasedAt.UTC().Format(time.RFC3339)
	}
	if f.TenantID != nil {
		payload["tenant_id"] = *f.TenantID
	}
	if f.RoleID != nil {
		payload["role_id"] = *f.RoleID
	}
	return payload
}

// errNotFound is internal to the client; public methods translate it to the
// entity-specific domain sentinel.
var errNotFound = errors.New("not found")

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var requestBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		requestBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, requestBody)
	if err != nil {
		err := fmt.Errorf("failed to create request: %w", err)
		reporting.Report(ctx, err)
		return err
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: failed to send request: %w", domain.ErrTemporarilyUnavailable, err)
	}

	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response body: %w", domain.ErrTemporarilyUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", domain.ErrConflict, string(data))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: inventory returned status %d", domain.ErrTemporarilyUnavailable, resp.StatusCode)
	default:
		err := fmt.Errorf("inventory returned unexpected status %d: %s", resp.StatusCode, string(data))
		reporting.Report(ctx, err, map[string]string{
			"method": method,
			"path":   path,
		})
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		err := fmt.Errorf("failed to decode inventory response: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"method": method,
			"path":   path,
		})
		return err
	}
	return nil
}

func (c *Client) ListSegments(ctx context.Context, filter SegmentFilter) ([]domain.Segment, error) {
	var out segmentListResponse
	err := c.pools.RunRead(ctx, "list segments", func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/api/v1/segments", filter.query(), nil, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("could not list segments: %w", err)
	}

	segments := make([]domain.Segment, 0, len(out.Results))
	for _, result := range out.Results {
		segments = append(segments, result.toDomain())
	}
	return segments, nil
}

func (c *Client) GetSegment(ctx context.Context, id int) (domain.Segment, error) {
	var out segmentResponse
	err := c.pools.RunRead(ctx, "get segment", func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/api/v1/segments/"+strconv.Itoa(id), nil, nil, &out)
	})
	if err != nil {
		if errors.Is(err, errNotFound) {
			return domain.Segment{}, fmt.Errorf("%w: id %d", domain.ErrSegmentNotFound, id)
		}
		return domain.Segment{}, fmt.Errorf("could not get segment %d: %w", id, err)
	}
	return out.toDomain(), nil
}

func (c *Client) CreateSegment(ctx context.Context, scope domain.Scope, fields SegmentFields) (domain.Segment, error) {
	payload := fields.payload()
	payload["site"] = scope.Site
	payload["network"] = scope.Network

	var out segmentResponse
	err := c.pools.RunWrite(ctx, "create segment", func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "/api/v1/segments", nil, payload, &out)
	})
	if err != nil {
		return domain.Segment{}, fmt.Errorf("could not create segment: %w", err)
	}
	return out.toDomain(), nil
}

func (c *Client) UpdateSegment(ctx context.Context, id int, fields SegmentFields) (domain.Segment, error) {
	var out segmentResponse
	err := c.pools.RunWrite(ctx, "update segment", func(ctx context.Context) error {
		return c.do(ctx, http.MethodPatch, "/api/v1/segments/"+strconv.Itoa(id), nil, fields.payload(), &out)
	})
	if err != nil {
		if errors.Is(err, errNotFound) {
			return domain.Segment{}, fmt.Errorf("%w: id %d", domain.ErrSegmentNotFound, id)
		}
		return domain.Segment{}, fmt.Errorf("could not update segment %d: %w", id, err)
	}
	return out.toDomain(), nil
}

func (c *Client) DeleteSegment(ctx context.Context, id int) error {
	err := c.pools.RunWrite(ctx, "delete segment", func(ctx context.Context) error {
		return c.do(ctx, http.MethodDelete, "/api/v1/segments/"+strconv.Itoa(id), nil, nil, nil)
	})
	if err != nil {
		if errors.Is(err, errNotFound) {
			return fmt.Errorf("%w: id %d", domain.ErrSegmentNotFound, id)
		}
		return fmt.Errorf("could not delete segment %d: %w", id, err)
	}
	return nil
}

func (c *Client) FindReference(ctx context.Context, kind domain.ReferenceKind, name string) (domain.Reference, error) {
	path, err := kindPath(kind)
	if err != nil {
		return domain.Reference{}, err
	}

	query := url.Values{}
	query.Set("name", name)

	var out referenceListResponse
	err = c.pools.RunRead(ctx, fmt.Sprintf("find %s", kind), func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, path, query, nil, &out)
	})
	if err != nil {
		return domain.Reference{}, fmt.Errorf("could not find %s %q: %w", kind, name, err)
	}

	if len(out.Results) == 0 {
		return domain.Reference{}, fmt.Errorf("%w: %s %q", domain.ErrReferenceNotFound, kind, name)
	}
	return domain.Reference{Kind: kind, ID: out.Results[0].ID, Name: out.Results[0].Name}, nil
}

func (c *Client) CreateReference(ctx context.Context, kind domain.ReferenceKind, name string) (domain.Reference, error) {
	path, err := kindPath(kind)
	if err != nil {
		return domain.Reference{}, err
	}

	var out referenceResponse
	err = c.pools.RunWrite(ctx, fmt.Sprintf("create %s", kind), func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, path, nil, map[string]any{"name": name}, &out)
	})
	if err != nil {
		return domain.Reference{}, fmt.Errorf("could not create %s %q: %w", kind, name, err)
	}
	return domain.Reference{Kind: kind, ID: out.ID, Name: out.Name}, nil
}
