package database

import "time"

// Upload represents one stored upload record. Records are immutable after
// creation; effective accessibility changes only as a function of time and
// of the count of associated access events.
type Upload struct {
	PublicLink   string
	AnalyticLink string
	FileRef      string // path into the content store, shared between records with equal FileHash
	FileName     string
	FileHash     string
	Size         int64
	PasswordHash *string // nil when no password set
	ExpiresAt    time.Time
	MaxDownloads int
	CreatedAt    time.Time
}

// AccessEvent records exactly one successful download grant.
type AccessEvent struct {
	ID          int64
	UploadLink  string // foreign key to uploads.public_link
	OS          string
	DeviceType  string
	Browser     string
	Country     string
	Region      string
	City        string
	TimeClicked time.Time
}

// Stats holds aggregate server statistics.
type Stats struct {
	TotalUploads  int64
	ActiveUploads int64
	TotalAccesses int64
	StorageUsed   int64
}
