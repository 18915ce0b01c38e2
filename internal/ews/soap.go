package ews

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// Namespace constants for the EWS SOAP dialect.
const (
	nsMessages = "http://schemas.microsoft.com/exchange/services/2006/messages"
	nsTypes    = "http://schemas.microsoft.com/exchange/services/2006/types"
)

// escape XML-escapes a value interpolated into an envelope.
func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))

	return buf.String()
}

// wrapSoap wraps a request body in the fixed envelope: Exchange2016
// version header plus impersonation of the target mailbox.
func wrapSoap(mailbox, body string) []byte {
	return fmt.Appendf(nil,
		`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/" xmlns:t=%q>`+
			`<soap:Header>`+
			`<t:RequestServerVersion Version="Exchange2016"/>`+
			`<t:ExchangeImpersonation><t:ConnectingSID><t:PrimarySmtpAddress>%s</t:PrimarySmtpAddress></t:ConnectingSID></t:ExchangeImpersonation>`+
			`</soap:Header>`+
			`<soap:Body>%s</soap:Body>`+
			`</soap:Envelope>`,
		nsTypes, escape(mailbox), body)
}

// syncFolderItemsBody builds a SyncFolderItems request. An empty
// syncState requests the full enumeration of the folder.
func syncFolderItemsBody(folderID, syncState string, maxChanges int) string {
	state := ""
	if syncState != "" {
		state = "<m:SyncState>" + escape(syncState) + "</m:SyncState>"
	}

	return fmt.Sprintf(
		`<m:SyncFolderItems xmlns:m=%q xmlns:t=%q>`+
			`<m:ItemShape><t:BaseShape>IdOnly</t:BaseShape></m:ItemShape>`+
			`<m:SyncFolderId><t:FolderId Id=%q/></m:SyncFolderId>%s`+
			`<m:MaxChangesReturned>%d</m:MaxChangesReturned>`+
			`</m:SyncFolderItems>`,
		nsMessages, nsTypes, escape(folderID), state, maxChanges)
}

// getItemBody builds a GetItem request for one item's MIME content plus
// the metadata the archiver names files from.
func getItemBody(itemID string) string {
	return fmt.Sprintf(
		`<m:GetItem xmlns:m=%q xmlns:t=%q>`+
			`<m:ItemShape><t:BaseShape>IdOnly</t:BaseShape>`+
			`<t:AdditionalProperties>`+
			`<t:FieldURI FieldURI="item:MimeContent"/>`+
			`<t:FieldURI FieldURI="item:Subject"/>`+
			`<t:FieldURI FieldURI="item:DateTimeReceived"/>`+
			`</t:AdditionalProperties></m:ItemShape>`+
			`<m:ItemIds><t:ItemId Id=%q/></m:ItemIds>`+
			`</m:GetItem>`,
		nsMessages, nsTypes, escape(itemID))
}

// findFolderBody builds a shallow FindFolder request. Roots are addressed
// by distinguished name; the archive root additionally needs the mailbox
// address. Sub-folders are addressed by concrete folder id.
func findFolderBody(parent FolderRef, mailbox string) string {
	var parentMarkup string

	switch {
	case parent.Distinguished && parent.Archive:
		parentMarkup = fmt.Sprintf(
			`<t:DistinguishedFolderId Id=%q><t:Mailbox><t:EmailAddress>%s</t:EmailAddress></t:Mailbox></t:DistinguishedFolderId>`,
			escape(parent.ID), escape(mailbox))
	case parent.Distinguished:
		parentMarkup = fmt.Sprintf(`<t:DistinguishedFolderId Id=%q/>`, escape(parent.ID))
	default:
		parentMarkup = fmt.Sprintf(`<t:FolderId Id=%q/>`, escape(parent.ID))
	}

	return fmt.Sprintf(
		`<m:FindFolder Traversal="Shallow" xmlns:m=%q xmlns:t=%q>`+
			`<m:FolderShape><t:BaseShape>Default</t:BaseShape></m:FolderShape>`+
			`<m:ParentFolderIds>%s</m:ParentFolderIds>`+
			`</m:FindFolder>`,
		nsMessages, nsTypes, parentMarkup)
}
