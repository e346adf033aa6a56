package signature

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// KeyServer fetches a PEM-encoded public key by id, caching it for a
// bounded TTL. Per spec.md §9 Open Question 3, a key server that is
// unreachable at verification time causes the fetch to fail rather
// than falling back to an expired cached key: no offline cache is
// trusted past its TTL.
type KeyServer struct {
	baseURL string
	client  *http.Client
	ttl     time.Duration

	mu    sync.Mutex
	cache map[string]cachedKey
}

type cachedKey struct {
	pem       []byte
	fetchedAt time.Time
}

// ErrKeyNotFound indicates the key server has no key registered under
// the requested id, distinct from any other fetch failure (key server
// unreachable, malformed response): callers use this to distinguish
// spec.md §7's UnknownSigningKey from a generic verification failure.
type ErrKeyNotFound struct {
	KeyID string
}

func (e *ErrKeyNotFound) Error() string {
	return fmt.Sprintf("key %q not found", e.KeyID)
}

// NewKeyServer creates a key fetcher against baseURL (a key is fetched
// from baseURL + "/" + keyID). A zero ttl defaults to five minutes.
func NewKeyServer(baseURL string, httpClient *http.Client, ttl time.Duration) *KeyServer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &KeyServer{baseURL: baseURL, client: httpClient, ttl: ttl, cache: make(map[string]cachedKey)}
}

// Fetch returns the PEM-encoded public key for keyID, using the cache
// when the entry is within its TTL and otherwise refetching. A refetch
// failure is returned as-is and never masked by a stale cache hit.
func (k *KeyServer) Fetch(ctx context.Context, keyID string) ([]byte, error) {
	k.mu.Lock()
	entry, ok := k.cache[keyID]
	k.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < k.ttl {
		return entry.pem, nil
	}

	pemBytes, err := k.fetchRemote(ctx, keyID)
	if err != nil {
		var notFound *ErrKeyNotFound
		if errors.As(err, &notFound) {
			return nil, err
		}
		return nil, invalid("fetching key %q from key server: %v", keyID, err)
	}

	k.mu.Lock()
	k.cache[keyID] = cachedKey{pem: pemBytes, fetchedAt: time.Now()}
	k.mu.Unlock()
	return pemBytes, nil
}

func (k *KeyServer) fetchRemote(ctx context.Context, keyID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+"/"+keyID, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, &ErrKeyNotFound{KeyID: keyID}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}

// VerifyWithKeyServer is a convenience wrapper fetching bundle's key
// before verifying payload against it.
func VerifyWithKeyServer(ctx context.Context, ks *KeyServer, payload []byte, bundle Bundle) error {
	pubKeyPEM, err := ks.Fetch(ctx, bundle.KeyID)
	if err != nil {
		return err
	}
	return Verify(payload, bundle, pubKeyPEM)
}
