package db

// Account is one row of the accounts table. Config, translation and order
// columns hold JSON documents; empty string means NULL.
type Account struct {
	Owner          string
	AccountID      string
	Platform       string
	Role           string
	Status         string
	ReportedStatus string
	LastSeen       int64 // unix millis, 0 = unknown
	MasterConfig   string
	SlaveConfig    string
	Translations   string
	Orders         string
	SourcePath     string
	UpdatedAt      int64
}

// CopierSettings is the owner-wide copier switch.
type CopierSettings struct {
	Owner         string
	GlobalEnabled bool
	UpdatedAt     int64
}

// CopierFlag is an explicit per-account enable/disable choice.
type CopierFlag struct {
	AccountID string
	Enabled   bool
	UpdatedAt int64
}

// DeletedAccount marks an account the owner deleted while its state file
// still declared a role.
type DeletedAccount struct {
	AccountID string
	DeletedAt int64
}

// DiscoveredPath is a cached state-file location with its last fingerprint.
type DiscoveredPath struct {
	Path         string
	Size         int64
	ModTime      int64 // unix nanos
	Hash         string
	Source       string // "glob" or "well_known"
	DiscoveredAt int64
	LastRead     int64
}
