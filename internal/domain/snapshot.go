package domain

import "time"

// Snapshot status values. Only success and partial snapshots are eligible
// to be served as "latest successful".
const (
	SnapshotStatusSuccess = "success"
	SnapshotStatusPartial = "partial"
	SnapshotStatusFailed  = "failed"
)

// Snapshot is an immutable record of all configured districts' statistics as
// observed on one reporting date. The snapshot id is the reporting date
// (YYYY-MM-DD) and doubles as the storage key; a re-run for the same date
// replaces the whole document.
type Snapshot struct {
	SnapshotID         string          `json:"snapshot_id" bson:"_id"`
	CreatedAt          time.Time       `json:"created_at" bson:"created_at"`
	SchemaVersion      string          `json:"schema_version" bson:"schema_version"`
	CalculationVersion string          `json:"calculation_version" bson:"calculation_version"`
	Status             string          `json:"status" bson:"status"`
	Errors             []string        `json:"errors,omitempty" bson:"errors,omitempty"`
	Payload            SnapshotPayload `json:"payload" bson:"payload"`
}

// SnapshotPayload carries the per-district records plus collection metadata.
type SnapshotPayload struct {
	Districts []DistrictRecord   `json:"districts" bson:"districts"`
	Metadata  CollectionMetadata `json:"metadata" bson:"metadata"`
}

// CollectionMetadata describes how and when the payload was collected.
type CollectionMetadata struct {
	Source         string        `json:"source" bson:"source"`
	FetchedAt      time.Time     `json:"fetched_at" bson:"fetched_at"`
	DataAsOfDate   string        `json:"data_as_of_date" bson:"data_as_of_date"`
	DistrictCount  int           `json:"district_count" bson:"district_count"`
	ProcessingTime time.Duration `json:"processing_time_ms" bson:"processing_time_ms"`
}

// SnapshotMeta is the lightweight listing view of a snapshot. It never
// carries the payload.
type SnapshotMeta struct {
	SnapshotID         string    `json:"snapshot_id"`
	CreatedAt          time.Time `json:"created_at"`
	Status             string    `json:"status"`
	SchemaVersion      string    `json:"schema_version"`
	DistrictCount      int       `json:"district_count"`
	ErrorCount         int       `json:"error_count"`
	AnalyticsAvailable bool      `json:"analytics_available"`
}

// Meta derives the listing view from a full snapshot. Analytics downstream
// require a payload, so only success/partial snapshots advertise it.
func (s *Snapshot) Meta() SnapshotMeta {
	return SnapshotMeta{
		SnapshotID:         s.SnapshotID,
		CreatedAt:          s.CreatedAt,
		Status:             s.Status,
		SchemaVersion:      s.SchemaVersion,
		DistrictCount:      len(s.Payload.Districts),
		ErrorCount:         len(s.Errors),
		AnalyticsAvailable: s.Status == SnapshotStatusSuccess || s.Status == SnapshotStatusPartial,
	}
}

// DistrictRecord holds one district's statistics within a snapshot. Records
// are owned by their parent snapshot and are never referenced outside it.
type DistrictRecord struct {
	DistrictID         string       `json:"district_id" bson:"district_id"`
	Name               string       `json:"name,omitempty" bson:"name,omitempty"`
	TotalMembership    int          `json:"total_membership" bson:"total_membership"`
	MembershipBase     int          `json:"membership_base" bson:"membership_base"`
	MembershipDelta    int          `json:"membership_delta" bson:"membership_delta"`
	PaidClubs          int          `json:"paid_clubs" bson:"paid_clubs"`
	ActiveClubs        int          `json:"active_clubs" bson:"active_clubs"`
	SuspendedClubs     int          `json:"suspended_clubs" bson:"suspended_clubs"`
	LowMemberClubs     int          `json:"low_member_clubs" bson:"low_member_clubs"`
	DistinguishedClubs int          `json:"distinguished_clubs" bson:"distinguished_clubs"`
	EducationAwards    int          `json:"education_awards" bson:"education_awards"`
	Clubs              []ClubRecord `json:"clubs,omitempty" bson:"clubs,omitempty"`
}

// ClubRecord is the nested per-club breakdown inside a district record.
type ClubRecord struct {
	ClubID        string `json:"club_id" bson:"club_id"`
	Name          string `json:"name,omitempty" bson:"name,omitempty"`
	Division      string `json:"division,omitempty" bson:"division,omitempty"`
	Area          string `json:"area,omitempty" bson:"area,omitempty"`
	ActiveMembers int    `json:"active_members" bson:"active_members"`
	GoalsMet      int    `json:"goals_met" bson:"goals_met"`
	Status        string `json:"status,omitempty" bson:"status,omitempty"`
}
