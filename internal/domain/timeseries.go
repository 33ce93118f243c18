package domain

import (
	"fmt"
	"time"
)

// TimeSeriesDataPoint is one district's metric observation for a single
// reporting date. Every point carries the id of the snapshot that produced
// it so a snapshot deletion can remove exactly its own contributions.
type TimeSeriesDataPoint struct {
	Date               string `json:"date" bson:"date"`
	SnapshotID         string `json:"snapshot_id" bson:"snapshot_id"`
	TotalMembership    int    `json:"total_membership" bson:"total_membership"`
	PaidClubs          int    `json:"paid_clubs" bson:"paid_clubs"`
	ActiveClubs        int    `json:"active_clubs" bson:"active_clubs"`
	DistinguishedClubs int    `json:"distinguished_clubs" bson:"distinguished_clubs"`
	EducationAwards    int    `json:"education_awards" bson:"education_awards"`
}

// ProgramYearBucket groups one district's data points for a single program
// year. Points are kept in date order.
type ProgramYearBucket struct {
	DistrictID  string                `json:"district_id" bson:"district_id"`
	ProgramYear string                `json:"program_year" bson:"program_year"`
	DataPoints  []TimeSeriesDataPoint `json:"data_points" bson:"data_points"`
	UpdatedAt   time.Time             `json:"updated_at" bson:"updated_at"`
}

// DataPointFromDistrict projects the time-series metrics out of a district
// record for the given snapshot.
func DataPointFromDistrict(snapshotID, date string, d DistrictRecord) TimeSeriesDataPoint {
	return TimeSeriesDataPoint{
		Date:               date,
		SnapshotID:         snapshotID,
		TotalMembership:    d.TotalMembership,
		PaidClubs:          d.PaidClubs,
		ActiveClubs:        d.ActiveClubs,
		DistinguishedClubs: d.DistinguishedClubs,
		EducationAwards:    d.EducationAwards,
	}
}

// DateLayout is the calendar-date format used for snapshot ids and
// time-series dates.
const DateLayout = "2006-01-02"

// ProgramYearOf maps a date to its fiscal program-year bucket. The program
// year starts July 1: 2024-06-30 belongs to "2023-2024", 2024-07-01 to
// "2024-2025".
func ProgramYearOf(t time.Time) string {
	year := t.Year()
	if t.Month() < time.July {
		year--
	}
	return fmt.Sprintf("%d-%d", year, year+1)
}

// ProgramYearOfDate is ProgramYearOf for a YYYY-MM-DD string.
func ProgramYearOfDate(date string) (string, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", date, err)
	}
	return ProgramYearOf(t), nil
}
