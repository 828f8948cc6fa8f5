package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	gosync "sync"
	"testing"
	"time"

	"lease-offer-sync/models"
	"lease-offer-sync/utils"
)

// fakeMarketplace records admin API calls and assigns downstream IDs.
type fakeMarketplace struct {
	mu        gosync.Mutex
	creates   []string // external IDs received on create
	updates   []string // downstream IDs received on update
	inactive  []string // downstream IDs marked inactive
	nextID    int
	rejectIDs map[string]bool // external IDs to reject on create
}

func newFakeMarketplace() *fakeMarketplace {
	return &fakeMarketplace{rejectIDs: make(map[string]bool)}
}

func (f *fakeMarketplace) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/admin/import-offer", func(w http.ResponseWriter, r *http.Request) {
		var offer models.EnrichedOffer
		if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()

		if f.rejectIDs[offer.ExternalID] {
			http.Error(w, "rejected payload", http.StatusUnprocessableEntity)
			return
		}

		f.creates = append(f.creates, offer.ExternalID)
		f.nextID++
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok": true,
			"id": fmt.Sprintf("store_%d", f.nextID),
		})
	})

	mux.HandleFunc("/admin/offers/", func(w http.ResponseWriter, r *http.Request) {
		downstreamID := r.URL.Path[len("/admin/offers/"):]

		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()

		if status, ok := payload["status"]; ok && status == "inactive" {
			f.inactive = append(f.inactive, downstreamID)
		} else {
			f.updates = append(f.updates, downstreamID)
		}
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})

	return mux
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(utils.NewLogger(), Options{
		BaseURL:     baseURL,
		Token:       "test-token",
		Concurrency: 2,
		MaxRetries:  1,
		RetryDelay:  time.Millisecond,
	})
}

func offer(id string) *models.EnrichedOffer {
	return &models.EnrichedOffer{RawOffer: models.RawOffer{ExternalID: id}}
}

func TestSyncOffersCreatesUnknown(t *testing.T) {
	market := newFakeMarketplace()
	server := httptest.NewServer(market.handler())
	defer server.Close()

	client := newTestClient(t, server.URL)
	ids := NewIdentityMap(nil)

	outcome := client.SyncOffers(context.Background(), []*models.EnrichedOffer{offer("A"), offer("B")}, ids)

	if outcome.Imported != 2 || outcome.Updated != 0 || outcome.Failed != 0 {
		t.Errorf("outcome: got %+v, want 2 imported", outcome)
	}
	if ids.Len() != 2 {
		t.Errorf("identity map: got %d entries, want 2", ids.Len())
	}
	if _, ok := ids.Get("A"); !ok {
		t.Error("identity map missing entry for A after create")
	}
}

func TestSyncOffersReusesIdentityMap(t *testing.T) {
	market := newFakeMarketplace()
	server := httptest.NewServer(market.handler())
	defer server.Close()

	client := newTestClient(t, server.URL)
	ids := NewIdentityMap(nil)

	// First run imports A.
	client.SyncOffers(context.Background(), []*models.EnrichedOffer{offer("A")}, ids)
	// Second run referencing the same external ID must update, never re-create.
	outcome := client.SyncOffers(context.Background(), []*models.EnrichedOffer{offer("A")}, ids)

	if outcome.Updated != 1 || outcome.Imported != 0 {
		t.Errorf("second run outcome: got %+v, want 1 updated", outcome)
	}
	if len(market.creates) != 1 {
		t.Errorf("creates: got %d, want exactly 1", len(market.creates))
	}
	if len(market.updates) != 1 {
		t.Errorf("updates: got %d, want 1", len(market.updates))
	}
}

func TestSyncOffersIsolatesFailures(t *testing.T) {
	market := newFakeMarketplace()
	market.rejectIDs["BAD"] = true
	server := httptest.NewServer(market.handler())
	defer server.Close()

	client := newTestClient(t, server.URL)
	ids := NewIdentityMap(nil)

	outcome := client.SyncOffers(context.Background(),
		[]*models.EnrichedOffer{offer("A"), offer("BAD"), offer("B")}, ids)

	if outcome.Failed != 1 {
		t.Errorf("failed: got %d, want 1", outcome.Failed)
	}
	if outcome.Imported != 2 {
		t.Errorf("imported: got %d, want 2 — one rejection must not abort the batch", outcome.Imported)
	}
	if _, ok := ids.Get("BAD"); ok {
		t.Error("identity map should have no entry for a failed create")
	}
}

func TestMarkInactive(t *testing.T) {
	market := newFakeMarketplace()
	server := httptest.NewServer(market.handler())
	defer server.Close()

	client := newTestClient(t, server.URL)

	if ok := client.MarkInactive(context.Background(), "store_55"); !ok {
		t.Fatal("MarkInactive returned false for a healthy endpoint")
	}

	if len(market.inactive) != 1 || market.inactive[0] != "store_55" {
		t.Errorf("inactive calls: got %v, want exactly [store_55]", market.inactive)
	}
	if len(market.updates) != 0 {
		t.Errorf("plain updates: got %d, want 0", len(market.updates))
	}
}

func TestMarkInactiveTransportFailure(t *testing.T) {
	server := httptest.NewServer(market500())
	defer server.Close()

	client := newTestClient(t, server.URL)

	if ok := client.MarkInactive(context.Background(), "store_55"); ok {
		t.Error("MarkInactive should report failure on server error")
	}
}

func market500() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
}

func TestIdentityMapEntriesIsCopy(t *testing.T) {
	ids := NewIdentityMap(map[string]string{"A": "store_1"})

	entries := ids.Entries()
	entries["B"] = "store_2"

	if ids.Len() != 1 {
		t.Error("mutating the Entries copy must not affect the map")
	}
}
