package domain

import "fmt"

// ActivityTypeBackcountrySki is the only activity type enriched automatically.
const ActivityTypeBackcountrySki = "BackcountrySki"

// Coordinate is a WGS-84 latitude/longitude pair.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lon)
}

// ActivityRecord is the subset of a Strava activity the enrichment reads.
// StartTimeLocal and StartCoordinate are optional.
type ActivityRecord struct {
	ID              int64
	AthleteID       int64
	ActivityType    string
	Title           string
	Description     string
	StartTimeUTC    string
	StartTimeLocal  string
	StartCoordinate *Coordinate
}

// ActivityUpdate is the single mutation written back to Strava. A nil Title
// leaves the activity name untouched.
type ActivityUpdate struct {
	Title       *string
	Description string
}
