package graphapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// deltaResponse mirrors the Graph API delta response JSON structure.
type deltaResponse struct {
	Value     []driveItemResponse `json:"value"`
	NextLink  string              `json:"@odata.nextLink"`  //nolint:tagliatelle // OData annotation key
	DeltaLink string              `json:"@odata.deltaLink"` //nolint:tagliatelle // OData annotation key
}

// Delta fetches one page of delta changes for a drive. Pass an empty
// token for the initial full enumeration; otherwise pass the NextLink or
// DeltaLink from a previous page, full URLs that are converted back to
// API paths. HTTP 410 (expired token) surfaces as ErrGone so the caller
// can clear the cursor and restart.
func (c *Client) Delta(ctx context.Context, driveID, token string) (*DeltaPage, error) {
	path, err := c.buildDeltaPath(driveID, token)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetching delta page",
		slog.String("drive_id", driveID),
		slog.Bool("initial_sync", token == ""),
	)

	resp, err := c.do(ctx, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var dr deltaResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("graphapi: decoding delta response: %w", err)
	}

	items := make([]Item, 0, len(dr.Value))
	for i := range dr.Value {
		items = append(items, dr.Value[i].toItem())
	}

	c.logger.Debug("fetched delta page",
		slog.Int("item_count", len(items)),
		slog.Bool("has_next_link", dr.NextLink != ""),
		slog.Bool("has_delta_link", dr.DeltaLink != ""),
	)

	return &DeltaPage{
		Items:     items,
		NextLink:  dr.NextLink,
		DeltaLink: dr.DeltaLink,
	}, nil
}

// buildDeltaPath constructs the API path for a delta request. An empty
// token means initial sync; a non-empty token is a full URL from a
// previous response that gets stripped to a relative path.
func (c *Client) buildDeltaPath(driveID, token string) (string, error) {
	if token == "" {
		return fmt.Sprintf("/drives/%s/root/delta", driveID), nil
	}

	if !strings.HasPrefix(token, "http") {
		return fmt.Sprintf("/drives/%s/root/delta?token=%s", driveID, token), nil
	}

	path, err := c.stripBaseURL(token)
	if err != nil {
		return "", fmt.Errorf("graphapi: invalid delta token URL: %w", err)
	}

	return path, nil
}
