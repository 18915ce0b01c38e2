// Package config implements TOML configuration loading, validation, and
// defaults for deltabridge. Configuration is optional: every knob has a
// default, so the tool runs with no config file at all once the [azure]
// app credentials are supplied.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Storage Storage `toml:"storage"`
	Graph   Graph   `toml:"graph"`
	EWS     EWS     `toml:"ews"`
	Azure   Azure   `toml:"azure"`
}

// Storage configures where per-entity databases and content files live.
type Storage struct {
	Root string `toml:"root"`
}

// Graph configures the Microsoft Graph (drive backend) client.
type Graph struct {
	BaseURL string `toml:"base_url"`
}

// EWS configures the Exchange Web Services (mail backend) client and the
// mail driver's resource limits.
type EWS struct {
	Endpoint string `toml:"endpoint"`
	// MimeThresholdMB is the payload size at or below which message
	// content is hashed in memory; anything larger is spooled to a
	// temporary file and hashed by streaming.
	MimeThresholdMB int `toml:"mime_threshold_mb"`
	// SkipFolders are folder display names excluded from sync,
	// matched case-insensitively.
	SkipFolders []string `toml:"skip_folders"`
	// MaxChanges is the MaxChangesReturned value per sync batch.
	MaxChanges int `toml:"max_changes"`
}

// Azure holds the client-credential app registration used for EWS
// application access (impersonation).
type Azure struct {
	TenantID     string `toml:"tenant_id"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

// MimeThresholdBytes returns the streaming threshold in bytes.
func (e EWS) MimeThresholdBytes() int64 {
	return int64(e.MimeThresholdMB) * 1024 * 1024
}
