package storage

import "time"

const (
	// MaxEvents is the retention cap of the event log; appends beyond it
	// purge oldest rows first.
	MaxEvents = 500

	// DefaultPackageName and DefaultPackageLabel seed the watched list
	// when nothing is configured.
	DefaultPackageName  = "com.bcp.innovacxion.yapeapp"
	DefaultPackageLabel = "Yape"
)

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// CapturedEvent is one processed notification.
//
// ID is assigned by the store on insert and grows monotonically with
// insertion order. Rows are immutable once stored.
type CapturedEvent struct {
	ID        int64  `json:"id"`
	Amount    string `json:"amount"` // "S/ 25.00", "S/ ?" or ""
	Time      string `json:"time"`   // "10:30" or ""
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // capture time, epoch millis
	Forwarded bool   `json:"forwarded"`
	Package   string `json:"package"`
}

// WatchedPackage is a user-managed source application entry.
// Uniqueness is enforced by PackageName, not Name.
type WatchedPackage struct {
	Name        string `json:"name"`
	PackageName string `json:"packageName"`
}

// Destination is a user-managed delivery address.
// Uniqueness is enforced by Address.
type Destination struct {
	Name    string `json:"name"`
	Address string `json:"number"`
}

// Snapshot is an immutable read of the settings the pipeline needs,
// taken once per incoming notification so every decision point sees
// the same view.
type Snapshot struct {
	Packages   map[string]bool
	CaptureAll bool
	Addresses  []string
}

// LastSeen is the diagnostic record of the most recent notification
// that passed the package filter.
type LastSeen struct {
	Package string `json:"package"`
	Text    string `json:"text"`
}
