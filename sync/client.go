// Package sync publishes offer changes into the downstream marketplace store.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	gosync "sync"
	"time"

	"lease-offer-sync/models"
	"lease-offer-sync/utils"
)

// IdentityMap is the persisted correspondence between external listing IDs
// and downstream-store IDs. Entries are created after a successful create and
// never removed: removed offers are marked inactive, not deleted, so the
// mapping stays valid if the listing reappears.
type IdentityMap struct {
	mu      gosync.RWMutex
	entries map[string]string
}

// NewIdentityMap wraps an existing external-id → downstream-id mapping.
// A nil map starts empty.
func NewIdentityMap(entries map[string]string) *IdentityMap {
	if entries == nil {
		entries = make(map[string]string)
	}
	return &IdentityMap{entries: entries}
}

// Get returns the downstream ID for an external ID, if known.
func (m *IdentityMap) Get(externalID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.entries[externalID]
	return id, ok
}

// Set records a downstream ID after a successful create.
func (m *IdentityMap) Set(externalID, downstreamID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[externalID] = downstreamID
}

// Entries returns a copy of the mapping for persistence.
func (m *IdentityMap) Entries() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

// Len returns the number of known mappings.
func (m *IdentityMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Client idempotently upserts offers into the marketplace admin API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *utils.Logger
	retry   *utils.RetryConfig
	pool    *utils.WorkerPool
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
}

// NewClient creates a marketplace sync client.
func NewClient(logger *utils.Logger, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	return &Client{
		baseURL: opts.BaseURL,
		token:   opts.Token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
		retry: &utils.RetryConfig{
			MaxAttempts: retries,
			BaseDelay:   retryDelay,
			Logger:      logger,
		},
		pool: utils.NewWorkerPool(concurrency, 0),
	}
}

// SyncOffers upserts every offer through the bounded worker pool. Offers with
// a known identity-map entry are updated; the rest are created, and the
// returned downstream ID is recorded into the map. Per-item failures are
// counted and logged, never fatal to the batch.
func (c *Client) SyncOffers(ctx context.Context, offers []*models.EnrichedOffer, ids *IdentityMap) models.SyncOutcome {
	var (
		mu      gosync.Mutex
		outcome models.SyncOutcome
	)

	for _, offer := range offers {
		o := offer
		c.pool.Submit(func() {
			downstreamID, known := ids.Get(o.ExternalID)

			var err error
			if known {
				err = c.updateOffer(ctx, downstreamID, o)
			} else {
				downstreamID, err = c.createOffer(ctx, o)
				if err == nil {
					ids.Set(o.ExternalID, downstreamID)
				}
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				outcome.Failed++
				c.logger.Error("[sync] %v", &models.SyncError{ExternalID: o.ExternalID, Err: err})
			case known:
				outcome.Updated++
			default:
				outcome.Imported++
			}
		})
	}
	c.pool.Wait()

	c.logger.Info("[sync] imported=%d updated=%d failed=%d",
		outcome.Imported, outcome.Updated, outcome.Failed)
	return outcome
}

// MarkInactive flags a downstream offer as inactive via the update endpoint.
// Never a delete: the identity mapping must stay reusable for reactivation.
func (c *Client) MarkInactive(ctx context.Context, downstreamID string) bool {
	payload := map[string]string{"status": "inactive"}

	err := c.retry.Do(ctx, "mark-inactive "+downstreamID, func() error {
		var resp struct {
			OK bool `json:"ok"`
		}
		if err := c.call(ctx, http.MethodPut, "/admin/offers/"+downstreamID, payload, &resp); err != nil {
			return err
		}
		if !resp.OK {
			return fmt.Errorf("marketplace rejected status update")
		}
		return nil
	})
	if err != nil {
		c.logger.Error("[sync] mark inactive %s: %v", downstreamID, err)
		return false
	}
	return true
}

func (c *Client) createOffer(ctx context.Context, offer *models.EnrichedOffer) (string, error) {
	var resp struct {
		OK bool   `json:"ok"`
		ID string `json:"id"`
	}

	err := c.retry.Do(ctx, "create-offer "+offer.ExternalID, func() error {
		if err := c.call(ctx, http.MethodPost, "/admin/import-offer", offer, &resp); err != nil {
			return err
		}
		if !resp.OK || resp.ID == "" {
			return fmt.Errorf("marketplace rejected create")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) updateOffer(ctx context.Context, downstreamID string, offer *models.EnrichedOffer) error {
	return c.retry.Do(ctx, "update-offer "+offer.ExternalID, func() error {
		var resp struct {
			OK bool `json:"ok"`
		}
		if err := c.call(ctx, http.MethodPut, "/admin/offers/"+downstreamID, offer, &resp); err != nil {
			return err
		}
		if !resp.OK {
			return fmt.Errorf("marketplace rejected update")
		}
		return nil
	})
}

func (c *Client) call(ctx context.Context, method, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(raw))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
