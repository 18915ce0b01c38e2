package mailsync

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// maxSubjectRunes caps the subject portion of a derived filename.
const maxSubjectRunes = 50

// sanitizeSubject turns a message subject into a filesystem-safe name
// fragment: NFC-normalized, capped in length, with everything outside
// letters, digits, '_' and '-' replaced by '_'.
func sanitizeSubject(subject string) string {
	subject = norm.NFC.String(subject)

	runes := []rune(subject)
	if len(runes) > maxSubjectRunes {
		runes = runes[:maxSubjectRunes]
	}

	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' {
			runes[i] = '_'
		}
	}

	return string(runes)
}

// extensionForPath infers the archive file extension from the folder
// path category: contact folders produce vCards, calendar folders
// produce iCalendar entries, everything else is raw mail.
func extensionForPath(path string) string {
	p := strings.ToLower(path)

	switch {
	case strings.Contains(p, "contact"):
		return "vcf"
	case strings.Contains(p, "calendar"):
		return "ics"
	default:
		return "eml"
	}
}

// itemFileName derives the archived filename for one item: sanitized
// subject, a digest prefix for uniqueness, and the category extension.
func itemFileName(subject, digest, folderPath string) string {
	prefix := digest
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}

	return sanitizeSubject(subject) + "__" + prefix + "." + extensionForPath(folderPath)
}
