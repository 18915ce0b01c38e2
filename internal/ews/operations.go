package ews

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Distinguished folder roots for the two mailbox trees.
const (
	RootPrimary = "msgfolderroot"
	RootArchive = "archivemsgfolderroot"
)

// ErrNoContent is returned by GetItem when the response carries no
// MimeContent node. Retrying a structurally incomplete response is
// futile; callers skip the item.
var ErrNoContent = errors.New("ews: item response has no MIME content")

// FolderRef addresses a folder in EWS markup: either a distinguished
// root (optionally in the archive mailbox) or a concrete folder id.
type FolderRef struct {
	ID            string
	Distinguished bool
	Archive       bool
}

// Root returns a FolderRef for a distinguished mailbox root.
func Root(id string, archive bool) FolderRef {
	return FolderRef{ID: id, Distinguished: true, Archive: archive}
}

// FolderID returns a FolderRef for a concrete folder.
func FolderID(id string) FolderRef {
	return FolderRef{ID: id}
}

// Folder is one folder from a FindFolder response.
type Folder struct {
	ID   string
	Name string
}

// ChangeType is the server-reported kind of item change.
type ChangeType string

const (
	ChangeCreate ChangeType = "Create"
	ChangeUpdate ChangeType = "Update"
)

// Change is one Create/Update entry from a SyncFolderItems response.
type Change struct {
	Type      ChangeType
	ItemID    string
	ChangeKey string
}

// SyncPage is one bounded batch of folder changes. SyncState is the
// cursor for the next batch; MoreAvailable signals the loop to continue.
type SyncPage struct {
	Changes       []Change
	SyncState     string
	MoreAvailable bool
}

// Item is a fully fetched mail item. MimeBase64 is the raw base64 text
// as it appeared in the response; the caller decodes it incrementally.
type Item struct {
	MimeBase64 string
	Subject    string
	Received   time.Time
}

// --- response document shapes; field tags match by local name so the
// --- decoder tolerates any namespace prefix and missing optional nodes.

type itemIDElem struct {
	ID        string `xml:"Id,attr"`
	ChangeKey string `xml:"ChangeKey,attr"`
}

type rawFolder struct {
	FolderID    itemIDElem `xml:"FolderId"`
	DisplayName string     `xml:"DisplayName"`
}

type foldersContainer struct {
	// Folder, CalendarFolder, ContactsFolder, TasksFolder all carry
	// FolderId and DisplayName, so one shape decodes them all.
	Entries []rawFolder `xml:",any"`
}

type findFolderEnvelope struct {
	Folders []foldersContainer `xml:"Body>FindFolderResponse>ResponseMessages>FindFolderResponseMessage>RootFolder>Folders"`
}

type changedItem struct {
	ItemID itemIDElem `xml:"ItemId"`
}

type changeEntry struct {
	// The change wraps one item element whose name varies by class
	// (Message, Contact, CalendarItem, ...).
	Items []changedItem `xml:",any"`
}

type syncChanges struct {
	Creates []changeEntry `xml:"Create"`
	Updates []changeEntry `xml:"Update"`
}

type syncResponseMessage struct {
	ResponseClass string      `xml:"ResponseClass,attr"`
	SyncState     string      `xml:"SyncState"`
	IncludesLast  string      `xml:"IncludesLastItemInRange"`
	Changes       syncChanges `xml:"Changes"`
}

type syncEnvelope struct {
	Messages []syncResponseMessage `xml:"Body>SyncFolderItemsResponse>ResponseMessages>SyncFolderItemsResponseMessage"`
}

type rawItem struct {
	MimeContent      string `xml:"MimeContent"`
	Subject          string `xml:"Subject"`
	DateTimeReceived string `xml:"DateTimeReceived"`
}

type itemsContainer struct {
	Entries []rawItem `xml:",any"`
}

type getItemEnvelope struct {
	Items []itemsContainer `xml:"Body>GetItemResponse>ResponseMessages>GetItemResponseMessage>Items"`
}

// FindFolders enumerates the immediate child folders of parent.
func (c *Client) FindFolders(ctx context.Context, mailbox string, parent FolderRef) ([]Folder, error) {
	raw, err := c.call(ctx, mailbox, findFolderBody(parent, mailbox))
	if err != nil {
		return nil, err
	}

	var env findFolderEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("ews: decoding FindFolder response: %w", err)
	}

	var folders []Folder

	for _, container := range env.Folders {
		for _, f := range container.Entries {
			if f.FolderID.ID == "" {
				continue
			}

			folders = append(folders, Folder{ID: f.FolderID.ID, Name: f.DisplayName})
		}
	}

	c.logger.Debug("enumerated folders",
		slog.String("mailbox", mailbox),
		slog.String("parent", parent.ID),
		slog.Int("count", len(folders)),
	)

	return folders, nil
}

// SyncFolderItems requests one bounded batch of changes for a folder.
// Pass an empty syncState for the first batch of a fresh enumeration.
func (c *Client) SyncFolderItems(ctx context.Context, mailbox, folderID, syncState string, maxChanges int) (*SyncPage, error) {
	raw, err := c.call(ctx, mailbox, syncFolderItemsBody(folderID, syncState, maxChanges))
	if err != nil {
		return nil, err
	}

	var env syncEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("ews: decoding SyncFolderItems response: %w", err)
	}

	page := &SyncPage{}

	for _, msg := range env.Messages {
		if msg.ResponseClass == "Error" {
			return nil, fmt.Errorf("ews: SyncFolderItems returned error response for folder %s", folderID)
		}

		if msg.SyncState != "" {
			page.SyncState = msg.SyncState
		}

		// Absent flag means the batch is final; only an explicit
		// "false" keeps the loop going.
		page.MoreAvailable = msg.IncludesLast == "false"

		page.Changes = append(page.Changes, collectChanges(msg.Changes.Creates, ChangeCreate)...)
		page.Changes = append(page.Changes, collectChanges(msg.Changes.Updates, ChangeUpdate)...)
	}

	return page, nil
}

// collectChanges flattens change entries, dropping any without an item id.
func collectChanges(entries []changeEntry, typ ChangeType) []Change {
	var out []Change

	for _, entry := range entries {
		for _, item := range entry.Items {
			if item.ItemID.ID == "" {
				continue
			}

			out = append(out, Change{
				Type:      typ,
				ItemID:    item.ItemID.ID,
				ChangeKey: item.ItemID.ChangeKey,
			})
		}
	}

	return out
}

// GetItem fetches one item's MIME content, subject, and received time.
func (c *Client) GetItem(ctx context.Context, mailbox, itemID string) (*Item, error) {
	raw, err := c.call(ctx, mailbox, getItemBody(itemID))
	if err != nil {
		return nil, err
	}

	var env getItemEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("ews: decoding GetItem response: %w", err)
	}

	for _, container := range env.Items {
		for _, entry := range container.Entries {
			if entry.MimeContent == "" {
				continue
			}

			item := &Item{
				MimeBase64: entry.MimeContent,
				Subject:    entry.Subject,
			}

			if item.Subject == "" {
				item.Subject = "no-subject"
			}

			if entry.DateTimeReceived != "" {
				if ts, err := time.Parse(time.RFC3339, entry.DateTimeReceived); err == nil {
					item.Received = ts
				}
			}

			return item, nil
		}
	}

	return nil, ErrNoContent
}
