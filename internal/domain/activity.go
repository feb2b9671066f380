package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dblock/sparta-social/internal/lexicon"
)

// ActivityRecord is the materialized row derived from one activity record in
// a user's repository. The row is strictly a rebuildable cache; the
// repository on the federated network stays authoritative.
type ActivityRecord struct {
	URI                    string
	AuthorDID              string
	Title                  string
	Description            *string
	ActivityType           string
	DistanceInCm           *int64
	MovingTimeInMs         *int64
	ElapsedTimeInMs        *int64
	TotalElevationGainInCm *int64
	MapSummaryPolyline     *string
	MapPolyline            *string
	StartAtInUTC           *string
	StartAtTimeZone        *string
	CreatedAt              string
	IndexedAt              time.Time
}

// Event kinds delivered by the stream.
const (
	EventKindCreate   = "create"
	EventKindUpdate   = "update"
	EventKindDelete   = "delete"
	EventKindIdentity = "identity"
	EventKindAccount  = "account"
)

// Event is the decoded form of one stream notification. Record is present
// only for create/update kinds.
type Event struct {
	Kind       string          `json:"kind"`
	Collection string          `json:"collection"`
	URI        string          `json:"uri"`
	RepoID     string          `json:"repoId"`
	Record     json.RawMessage `json:"record,omitempty"`
}

// Cursor models the keyset pagination token for recency-ordered reads.
type Cursor struct {
	IndexedAt time.Time
	URI       string
}

// ActivityStore captures the persistence operations shared by the stream and
// optimistic write paths. Upsert and DeleteByURI must be individually atomic
// per uri.
type ActivityStore interface {
	Upsert(ctx context.Context, rec ActivityRecord) error
	DeleteByURI(ctx context.Context, uri string) error
	Get(ctx context.Context, uri string) (*ActivityRecord, error)
	ListRecent(ctx context.Context, cursor *Cursor, limit int) ([]ActivityRecord, *Cursor, error)
}

// RecordFromValidated maps a validated payload into the materialized row
// shape. indexedAt is system-owned and stamped by the caller on every apply.
func RecordFromValidated(uri, authorDID string, v lexicon.ValidatedActivity, indexedAt time.Time) ActivityRecord {
	return ActivityRecord{
		URI:                    uri,
		AuthorDID:              authorDID,
		Title:                  v.Title,
		Description:            v.Description,
		ActivityType:           v.ActivityType,
		DistanceInCm:           v.DistanceInCm,
		MovingTimeInMs:         v.MovingTimeInMs,
		ElapsedTimeInMs:        v.ElapsedTimeInMs,
		TotalElevationGainInCm: v.TotalElevationGainInCm,
		MapSummaryPolyline:     v.MapSummaryPolyline,
		MapPolyline:            v.MapPolyline,
		StartAtInUTC:           v.StartAtInUTC,
		StartAtTimeZone:        v.StartAtTimeZone,
		CreatedAt:              v.CreatedAt,
		IndexedAt:              indexedAt,
	}
}
