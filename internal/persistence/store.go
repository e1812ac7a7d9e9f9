// Package persistence provides the opaque key to JSON blob store backing
// candle history and strategy snapshots.
package persistence

// Keys used by the rest of the system. Candle history uses the stream
// key's canonical string form.
const (
	KeyStrategies = "strategies"
	KeyLogs       = "logs"
)

// Store is the persistence collaborator. Values are opaque structured
// blobs; no schema versioning is assumed beyond shape compatibility.
type Store interface {
	// Load unmarshals the blob stored under key into out. The boolean is
	// false when no blob exists for the key.
	Load(key string, out any) (bool, error)

	// Save marshals v and replaces the blob stored under key.
	Save(key string, v any) error
}
