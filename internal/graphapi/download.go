package graphapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
)

// DownloadContent streams an item's content. The /content endpoint
// redirects to a pre-authenticated URL which the HTTP client follows
// transparently. The caller must close the returned reader; content is
// consumed incrementally, never buffered whole.
func (c *Client) DownloadContent(ctx context.Context, driveID, itemID string) (io.ReadCloser, error) {
	path := fmt.Sprintf("/drives/%s/items/%s/content", url.PathEscape(driveID), url.PathEscape(itemID))

	resp, err := c.do(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("graphapi: fetching content for %s: %w", itemID, err)
	}

	c.logger.Debug("content stream opened",
		slog.String("drive_id", driveID),
		slog.String("item_id", itemID),
	)

	return resp.Body, nil
}
