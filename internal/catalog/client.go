package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/courseloft/api/internal/domain"
)

var (
	// ErrItemNotFound is returned when the CMS has no item with the given id.
	ErrItemNotFound = errors.New("catalog: item not found")
	// ErrUnavailable wraps transport failures and CMS 5xx responses.
	ErrUnavailable = errors.New("catalog: upstream unavailable")
)

const defaultCacheTTL = 5 * time.Minute

// Client reads course records from the CMS content API. Results are cached
// in-process for a short TTL; course prices change rarely and the checkout
// path re-reads on every request.
type Client struct {
	baseURL   string
	authToken string
	client    *http.Client
	now       func() time.Time
	cacheTTL  time.Duration

	mu    sync.RWMutex
	cache map[string]cachedItem
}

type cachedItem struct {
	item      domain.CatalogItem
	expiresAt time.Time
}

// Option customises Client construction.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for CMS requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithCacheTTL overrides how long fetched items are served from cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

// WithClock injects a custom time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient constructs a catalog client for the given CMS base URL.
func NewClient(baseURL, authToken string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("catalog: base url is required")
	}

	c := &Client{
		baseURL:   trimmed,
		authToken: strings.TrimSpace(authToken),
		client:    &http.Client{Timeout: 10 * time.Second},
		now:       time.Now,
		cacheTTL:  defaultCacheTTL,
		cache:     make(map[string]cachedItem),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c, nil
}

type itemPayload struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	BasePrice   int64  `json:"basePrice"`
	CreatorID   string `json:"creatorId"`
	CreatorName string `json:"creatorName"`
	LaunchDate  string `json:"launchDate,omitempty"`
	Slug        string `json:"slug"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

// GetItem fetches a single course record, serving from cache when fresh.
func (c *Client) GetItem(ctx context.Context, itemID string) (domain.CatalogItem, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return domain.CatalogItem{}, errors.New("catalog: item id is required")
	}

	if item, ok := c.lookupCache(itemID); ok {
		return item, nil
	}

	endpoint := fmt.Sprintf("%s/api/items/%s", c.baseURL, url.PathEscape(itemID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.CatalogItem{}, fmt.Errorf("catalog: build request: %w", err)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.CatalogItem{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.CatalogItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	case resp.StatusCode >= 500:
		return domain.CatalogItem{}, fmt.Errorf("%w: cms returned %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return domain.CatalogItem{}, fmt.Errorf("catalog: unexpected status %d for item %s", resp.StatusCode, itemID)
	}

	var payload itemPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.CatalogItem{}, fmt.Errorf("catalog: decode item %s: %w", itemID, err)
	}

	item, err := payload.toDomain()
	if err != nil {
		return domain.CatalogItem{}, err
	}

	c.storeCache(item)
	return item, nil
}

// GetItems fetches the given items, preserving input order. Missing items
// surface as ErrItemNotFound; the first failure aborts the batch.
func (c *Client) GetItems(ctx context.Context, itemIDs []string) ([]domain.CatalogItem, error) {
	items := make([]domain.CatalogItem, 0, len(itemIDs))
	for _, id := range itemIDs {
		item, err := c.GetItem(ctx, id)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (p itemPayload) toDomain() (domain.CatalogItem, error) {
	if strings.TrimSpace(p.ID) == "" {
		return domain.CatalogItem{}, errors.New("catalog: item payload missing id")
	}
	item := domain.CatalogItem{
		ID:          p.ID,
		Title:       p.Title,
		BasePrice:   p.BasePrice,
		CreatorID:   p.CreatorID,
		CreatorName: p.CreatorName,
		Slug:        p.Slug,
		ImageURL:    p.ImageURL,
	}
	if trimmed := strings.TrimSpace(p.LaunchDate); trimmed != "" {
		launch, err := time.Parse(time.RFC3339, trimmed)
		if err != nil {
			return domain.CatalogItem{}, fmt.Errorf("catalog: parse launch date for %s: %w", p.ID, err)
		}
		item.LaunchDate = &launch
	}
	return item, nil
}

func (c *Client) lookupCache(itemID string) (domain.CatalogItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[itemID]
	if !ok || c.now().After(entry.expiresAt) {
		return domain.CatalogItem{}, false
	}
	return entry.item, true
}

func (c *Client) storeCache(item domain.CatalogItem) {
	c.mu.Lock()
	c.cache[item.ID] = cachedItem{
		item:      item,
		expiresAt: c.now().Add(c.cacheTTL),
	}
	c.mu.Unlock()
}
