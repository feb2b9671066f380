// Package pds writes records into a user's personal data server, the
// authoritative repository on the federated network.
package pds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dblock/sparta-social/internal/auth"
)

// ErrNoSession is returned when the request context carries no credentials
// for the target repository.
var ErrNoSession = errors.New("no repository session in request context")

// Client performs com.atproto.repo.putRecord calls against the caller's PDS.
// Endpoint and access token come from the session claims on the request
// context; defaultEndpoint covers sessions that predate per-user endpoints.
type Client struct {
	httpClient      *http.Client
	defaultEndpoint string
}

// NewClient constructs a Client with the fallback PDS endpoint.
func NewClient(defaultEndpoint string) *Client {
	return &Client{
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		defaultEndpoint: strings.TrimRight(defaultEndpoint, "/"),
	}
}

type putRecordRequest struct {
	Repo       string         `json:"repo"`
	Collection string         `json:"collection"`
	RKey       string         `json:"rkey"`
	Validate   bool           `json:"validate"`
	Record     map[string]any `json:"record"`
}

type putRecordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// PutRecord durably writes the record into the repository identified by
// repoDID and returns the assigned canonical uri.
func (c *Client) PutRecord(ctx context.Context, repoDID, collection, rkey string, record map[string]any) (string, error) {
	claims, ok := auth.FromContext(ctx)
	if !ok || claims.PDSAccessToken == "" {
		return "", ErrNoSession
	}

	endpoint := strings.TrimRight(claims.PDSEndpoint, "/")
	if endpoint == "" {
		endpoint = c.defaultEndpoint
	}
	if endpoint == "" {
		return "", errors.New("no PDS endpoint configured")
	}

	body, err := json.Marshal(putRecordRequest{
		Repo:       repoDID,
		Collection: collection,
		RKey:       rkey,
		// The activity lexicons are not registered with the PDS; skip its
		// server-side schema validation.
		Validate: false,
		Record:   record,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/xrpc/com.atproto.repo.putRecord", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+claims.PDSAccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("put record: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("put record: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var decoded putRecordResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("put record: %w", err)
	}
	if decoded.URI == "" {
		return "", errors.New("put record: response missing uri")
	}
	return decoded.URI, nil
}
