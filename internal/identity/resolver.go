// Package identity resolves repository DIDs to human-readable handles.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Resolver maps repository DIDs to their domain-name handles. Unresolvable
// DIDs map to an empty string rather than failing the whole batch.
type Resolver interface {
	ResolveDIDsToHandles(ctx context.Context, dids []string) (map[string]string, error)
}

// DirectoryResolver resolves handles against a PLC directory and caches
// results with a TTL.
type DirectoryResolver struct {
	baseURL string
	client  *http.Client
	ttl     time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	handle    string
	expiresAt time.Time
}

// NewDirectoryResolver constructs a resolver against the directory base URL.
func NewDirectoryResolver(baseURL string, ttl time.Duration) *DirectoryResolver {
	return &DirectoryResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		ttl:     ttl,
		cache:   make(map[string]cacheEntry),
	}
}

// ResolveDIDsToHandles resolves each DID, serving from cache where possible.
func (r *DirectoryResolver) ResolveDIDsToHandles(ctx context.Context, dids []string) (map[string]string, error) {
	out := make(map[string]string, len(dids))
	for _, did := range dids {
		if did == "" {
			continue
		}
		if _, done := out[did]; done {
			continue
		}
		handle, ok := r.cached(did)
		if !ok {
			var err error
			handle, err = r.lookup(ctx, did)
			if err != nil {
				return nil, err
			}
			r.store(did, handle)
		}
		out[did] = handle
	}
	return out, nil
}

func (r *DirectoryResolver) cached(did string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[did]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.handle, true
}

func (r *DirectoryResolver) store(did, handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[did] = cacheEntry{handle: handle, expiresAt: time.Now().Add(r.ttl)}
}

// lookup fetches the DID document and extracts the handle from its
// alsoKnownAs aliases. An absent or alias-less document resolves to "".
func (r *DirectoryResolver) lookup(ctx context.Context, did string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/"+did, nil)
	if err != nil {
		return "", err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", did, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resolve %s: unexpected status %d", did, resp.StatusCode)
	}

	var doc struct {
		AlsoKnownAs []string `json:"alsoKnownAs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("resolve %s: %w", did, err)
	}

	for _, alias := range doc.AlsoKnownAs {
		if handle, ok := strings.CutPrefix(alias, "at://"); ok && handle != "" {
			return handle, nil
		}
	}
	return "", nil
}
