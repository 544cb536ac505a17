// Package annot resolves gene identifiers to human-readable names and
// descriptions through a batch lookup service. Lookups are best-effort:
// callers are expected to leave annotation blank for identifiers the service
// does not know.
package annot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/carbocation/pfx"
	"gopkg.in/guregu/null.v3"
)

// DefaultBatchSize caps how many identifiers go into a single request.
const DefaultBatchSize = 1000

// GeneInfo is what the service knows about one gene. Either field may be
// null when the service has no record of it.
type GeneInfo struct {
	Name        null.String `json:"name"`
	Description null.String `json:"description"`
}

// Lookup resolves a set of gene identifiers. The returned map contains an
// entry only for identifiers the backing source knows about; absence is not
// an error.
type Lookup interface {
	Lookup(ctx context.Context, ids []string) (map[string]GeneInfo, error)
}

// Client queries an HTTP annotation service: it POSTs {"ids": [...]} as JSON
// and expects a JSON array of {"id", "name", "description"} objects. Batches
// are retried a few times before giving up; on a persistent failure the
// annotations gathered so far are returned along with the error, so callers
// can degrade to blanks rather than abort.
type Client struct {
	URL        string
	HTTPClient *http.Client

	// BatchSize defaults to DefaultBatchSize when zero.
	BatchSize int
	// Retries is the number of attempts beyond the first, default 2.
	Retries int
	// RetryDelay defaults to 1s.
	RetryDelay time.Duration
}

var _ Lookup = (*Client)(nil)

type lookupRequest struct {
	IDs []string `json:"ids"`
}

type lookupEntry struct {
	ID          string      `json:"id"`
	Name        null.String `json:"name"`
	Description null.String `json:"description"`
}

func (c *Client) Lookup(ctx context.Context, ids []string) (map[string]GeneInfo, error) {
	batchSize := c.BatchSize
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}

	out := make(map[string]GeneInfo, len(ids))
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := c.lookupBatch(ctx, ids[start:end], out); err != nil {
			return out, err
		}
	}

	return out, nil
}

func (c *Client) lookupBatch(ctx context.Context, ids []string, out map[string]GeneInfo) error {
	payload, err := json.Marshal(lookupRequest{IDs: ids})
	if err != nil {
		return pfx.Err(err)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	retries := c.Retries
	if retries == 0 {
		retries = 2
	}
	delay := c.RetryDelay
	if delay == 0 {
		delay = time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.post(ctx, httpClient, payload)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}

		var entries []lookupEntry
		if err := json.Unmarshal(body, &entries); err != nil {
			lastErr = pfx.Err(err)
			continue
		}

		for _, e := range entries {
			if e.ID == "" {
				continue
			}
			out[e.ID] = GeneInfo{Name: e.Name, Description: e.Description}
		}

		return nil
	}

	return fmt.Errorf("annotation lookup of %d identifiers failed after %d attempts: %w", len(ids), retries+1, lastErr)
}

func (c *Client) post(ctx context.Context, httpClient *http.Client, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, pfx.Err(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pfx.Err(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("annotation service returned %s", resp.Status)
	}

	return body, nil
}

// Static serves lookups from a fixed map, for tests and offline runs.
type Static map[string]GeneInfo

var _ Lookup = Static(nil)

func (s Static) Lookup(_ context.Context, ids []string) (map[string]GeneInfo, error) {
	out := make(map[string]GeneInfo)
	for _, id := range ids {
		if info, ok := s[id]; ok {
			out[id] = info
		}
	}

	return out, nil
}
