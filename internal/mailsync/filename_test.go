package mailsync

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeSubject(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		want    string
	}{
		{"plain", "Quarterly_report-2024", "Quarterly_report-2024"},
		{"spaces and punctuation", "Re: lunch tomorrow?", "Re__lunch_tomorrow_"},
		{"unicode letters survive", "Übersicht März", "Übersicht_März"},
		{"path separators neutralized", "a/b\\c", "a_b_c"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeSubject(tt.subject))
		})
	}
}

func TestSanitizeSubject_CapsLength(t *testing.T) {
	long := strings.Repeat("x", 300)
	got := sanitizeSubject(long)
	assert.Equal(t, maxSubjectRunes, len([]rune(got)))
}

func TestExtensionForPath(t *testing.T) {
	assert.Equal(t, "vcf", extensionForPath("[MAIL]/Contacts"))
	assert.Equal(t, "ics", extensionForPath("[MAIL]/Calendar/Work"))
	assert.Equal(t, "eml", extensionForPath("[ARCHIVE]/Inbox"))
}

func TestItemFileName(t *testing.T) {
	got := itemFileName("Re: hello", "0123456789abcdef", "[MAIL]/Inbox")
	assert.Equal(t, "Re__hello__01234567.eml", got)

	// Short digests are used whole rather than sliced out of range.
	got = itemFileName("x", "abc", "[MAIL]/Contacts")
	assert.Equal(t, "x__abc.vcf", got)
}
