package graphapi

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind classifies a delta item once at the response boundary, so
// downstream code never probes optional facets.
type Kind int

const (
	KindFile Kind = iota
	KindFolder
	KindDeleted
)

// Item is a normalized drive item from a delta page.
type Item struct {
	ID         string
	Name       string
	Kind       Kind
	Size       int64
	ETag       string
	ParentPath string
	ModifiedAt time.Time

	// Content hashes as reported by the API; any of these may be empty.
	SHA256Hash   string
	QuickXorHash string
}

// VersionIdentity derives the logical version id used to decide whether
// the item's content changed since last seen. Preference order: strong
// content hash, fast hash, entity tag, then an id:size composite. The
// composite is a known weak spot: it cannot detect a same-size content
// edit when the remote reports neither a hash nor an etag.
func (it *Item) VersionIdentity() string {
	if it.SHA256Hash != "" {
		return it.SHA256Hash
	}

	if it.QuickXorHash != "" {
		return it.QuickXorHash
	}

	if it.ETag != "" {
		return it.ETag
	}

	return fmt.Sprintf("%s:%d", it.ID, it.Size)
}

// DeltaPage is one page of a drive's change feed. Exactly one of
// NextLink (more pages) and DeltaLink (feed exhausted; resume token for
// the next run) is normally set; both empty is an anomalous end of feed.
type DeltaPage struct {
	Items     []Item
	NextLink  string
	DeltaLink string
}

// driveItemResponse mirrors the Graph API driveItem JSON. Unexported;
// callers receive normalized Items.
type driveItemResponse struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	Size                 int64            `json:"size"`
	ETag                 string           `json:"eTag"`
	LastModifiedDateTime string           `json:"lastModifiedDateTime"`
	ParentReference      *parentRef       `json:"parentReference"`
	File                 *fileFacet       `json:"file"`
	Folder               *json.RawMessage `json:"folder"`
	Deleted              *json.RawMessage `json:"deleted"`
}

type parentRef struct {
	Path string `json:"path"`
}

type fileFacet struct {
	MimeType string     `json:"mimeType"`
	Hashes   *hashFacet `json:"hashes"`
}

type hashFacet struct {
	QuickXorHash string `json:"quickXorHash"`
	SHA256Hash   string `json:"sha256Hash"`
}

// toItem classifies and normalizes a raw driveItem. Deletion markers win
// over facets; anything with a folder facet is a folder; the rest are
// files.
func (d *driveItemResponse) toItem() Item {
	item := Item{
		ID:   d.ID,
		Name: d.Name,
		Size: d.Size,
		ETag: d.ETag,
	}

	switch {
	case d.Deleted != nil:
		item.Kind = KindDeleted
	case d.Folder != nil:
		item.Kind = KindFolder
	default:
		item.Kind = KindFile
	}

	if item.Name == "" {
		item.Name = "unnamed"
	}

	if d.ParentReference != nil {
		item.ParentPath = d.ParentReference.Path
	}

	if d.File != nil && d.File.Hashes != nil {
		item.QuickXorHash = d.File.Hashes.QuickXorHash
		item.SHA256Hash = d.File.Hashes.SHA256Hash
	}

	if d.LastModifiedDateTime != "" {
		if ts, err := time.Parse(time.RFC3339, d.LastModifiedDateTime); err == nil {
			item.ModifiedAt = ts
		}
	}

	return item
}

// Drive is the subset of a drive resource this tool needs.
type Drive struct {
	ID        string
	DriveType string
}
