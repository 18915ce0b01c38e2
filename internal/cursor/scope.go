package cursor

import (
	"fmt"
	"hash/crc32"
)

// Scope keys must be stable across runs for the same resource and
// distinct across resources; a collision would silently merge two
// unrelated cursors. Remote IDs can be hundreds of characters, so keys
// carry an 8-hex-char CRC of the ID rather than the ID itself.

// shortHash returns the first 8 hex characters of the CRC-32 of id.
func shortHash(id string) string {
	return fmt.Sprintf("%08x", crc32.ChecksumIEEE([]byte(id)))
}

// DriveScope derives the cursor scope for one drive's delta feed.
func DriveScope(driveID string) string {
	return "drive_onedrive:" + shortHash(driveID)
}

// MailScope derives the cursor scope for a top-level mail folder.
// prefix distinguishes the primary mailbox from the archive mailbox.
func MailScope(prefix, folderID string) string {
	return prefix + ":" + shortHash(folderID)
}

// ChildScope derives the scope for a sub-folder, nested under its
// parent's scope so the hierarchy stays readable in the database.
func ChildScope(parent, folderID string) string {
	return parent + ":" + shortHash(folderID)
}
