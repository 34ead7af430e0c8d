// Package groupme implements the client for the GroupMe v3 REST API.
// It exposes the three calls the relay consumes: the current user, the
// user's group listing, and one page of a group's message index.
package groupme

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/tidwall/gjson"

	"github.com/edgard/groupstash/internal/apperrors"
)

const (
	// DefaultBaseURL is the public GroupMe API endpoint.
	DefaultBaseURL = "https://api.groupme.com/v3"

	// PageSize is the maximum page size the message index allows.
	PageSize = 100

	// groupsPerPage is the maximum page size of the group listing.
	groupsPerPage = 500
)

// errNotModified marks the 304 the API answers once a group's history
// is exhausted. It never escapes this package.
var errNotModified = errors.New("remote history exhausted")

// Client talks to the GroupMe REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a GroupMe API client. An empty baseURL selects the
// public endpoint.
func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With("component", "groupme_client"),
	}
}

type tokenOptions struct {
	Token string `url:"token"`
}

type groupOptions struct {
	Token   string `url:"token"`
	PerPage int    `url:"per_page"`
}

type pageOptions struct {
	Token    string `url:"token"`
	Limit    int    `url:"limit"`
	BeforeID string `url:"before_id,omitempty"`
}

// Me fetches the account that owns the access token.
func (c *Client) Me(ctx context.Context, token string) (*User, error) {
	var user User
	if err := c.get(ctx, "/users/me", tokenOptions{Token: token}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Groups fetches all groups the token's user belongs to, including the
// member list of each.
func (c *Client) Groups(ctx context.Context, token string) ([]Group, error) {
	var groups []Group
	if err := c.get(ctx, "/groups", groupOptions{Token: token, PerPage: groupsPerPage}, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

type messagePage struct {
	Messages []Message `json:"messages"`
}

// MessagePage fetches one page of up to PageSize messages, newest-first.
// An empty beforeID requests the newest page; otherwise only messages
// older than beforeID are returned. End of history arrives as HTTP 304,
// which is surfaced as an empty page, not an error.
func (c *Client) MessagePage(ctx context.Context, token, groupID, beforeID string) ([]Message, error) {
	opts := pageOptions{Token: token, Limit: PageSize, BeforeID: beforeID}
	var page messagePage
	err := c.get(ctx, "/groups/"+url.PathEscape(groupID)+"/messages", opts, &page)
	if err != nil {
		if errors.Is(err, errNotModified) {
			return nil, nil
		}
		return nil, err
	}
	return page.Messages, nil
}

// get performs one API call: encode options, unwrap the response
// envelope, and decode the payload into out.
func (c *Client) get(ctx context.Context, path string, opts any, out any) error {
	vals, err := query.Values(opts)
	if err != nil {
		return apperrors.NewRemoteError("failed to encode query options", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+vals.Encode(), nil)
	if err != nil {
		return apperrors.NewRemoteError("failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewRemoteError("request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewRemoteError("failed to read response body", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return errNotModified
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.NewAuthError("access token rejected", nil)
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		c.log.WarnContext(ctx, "Remote API returned error status",
			"path", path, "status", resp.StatusCode)
		return apperrors.NewRemoteError(
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, envelopeErrors(body)), nil)
	}

	payload := gjson.GetBytes(body, "response")
	if !payload.Exists() {
		return apperrors.NewRemoteError("response envelope missing payload", nil)
	}
	if err := json.Unmarshal([]byte(payload.Raw), out); err != nil {
		return apperrors.NewRemoteError("failed to decode response payload", err)
	}
	return nil
}

// envelopeErrors pulls meta.errors out of a GroupMe error body.
func envelopeErrors(body []byte) string {
	result := gjson.GetBytes(body, "meta.errors")
	if !result.Exists() || !result.IsArray() {
		return "no error detail"
	}
	parts := make([]string, 0, 2)
	for _, e := range result.Array() {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, "; ")
}
