package config

// Default values applied before the config file is read. The streaming
// threshold and skip-list defaults must survive an absent or partial
// config file, so they live here rather than at the call sites.
const (
	defaultGraphBaseURL    = "https://graph.microsoft.com/v1.0"
	defaultEWSEndpoint     = "https://outlook.office365.com/EWS/Exchange.asmx"
	defaultMimeThresholdMB = 50
	defaultMaxChanges      = 100
	defaultStorageRoot     = "~/deltabridge"
)

// defaultSkipFolders are system/noise folders never worth archiving.
func defaultSkipFolders() []string {
	return []string{"sync issues", "conversation history", "local failures", "junk email"}
}

// DefaultConfig returns a Config populated with all default values.
// Loading merges the config file on top of this.
func DefaultConfig() *Config {
	return &Config{
		Storage: Storage{Root: defaultStorageRoot},
		Graph:   Graph{BaseURL: defaultGraphBaseURL},
		EWS: EWS{
			Endpoint:        defaultEWSEndpoint,
			MimeThresholdMB: defaultMimeThresholdMB,
			SkipFolders:     defaultSkipFolders(),
			MaxChanges:      defaultMaxChanges,
		},
	}
}
