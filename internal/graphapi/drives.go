package graphapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
)

// driveResponse mirrors the Graph API drive JSON response.
type driveResponse struct {
	ID        string `json:"id"`
	DriveType string `json:"driveType"`
}

// ResolveDefaultDrive returns the default drive of a user, used when the
// caller supplies the "me" alias instead of a concrete drive id.
func (c *Client) ResolveDefaultDrive(ctx context.Context, userID string) (Drive, error) {
	path := fmt.Sprintf("/users/%s/drive", url.PathEscape(userID))

	resp, err := c.do(ctx, path)
	if err != nil {
		return Drive{}, fmt.Errorf("graphapi: resolving default drive for %s: %w", userID, err)
	}
	defer resp.Body.Close()

	var dr driveResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return Drive{}, fmt.Errorf("graphapi: decoding drive response: %w", err)
	}

	c.logger.Debug("resolved default drive",
		slog.String("user_id", userID),
		slog.String("drive_id", dr.ID),
		slog.String("drive_type", dr.DriveType),
	)

	return Drive{ID: dr.ID, DriveType: dr.DriveType}, nil
}
