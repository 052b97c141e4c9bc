// Package domain models Strava webhook notifications, activities, athlete
// credentials, and the avalanche forecast enrichment rules applied to them.
//
// # Data Source
//
// Strava posts a notification for every activity create, update, or delete and
// for athlete deauthorizations. The notification carries identifiers only; the
// activity itself is always fetched fresh from the Strava API before any
// decision is made, so a redelivered notification sees the current state.
//
// # Enrichment Conventions
//
// Manual marker:
//
//	A literal token in the activity title (default "#avy") requests an
//	on-demand enrichment for any activity type. Matching is case-sensitive.
//	The marker is always removed from the title by the same update that
//	writes the description.
//
// Forecast block:
//
//	Appended to the end of the description as three lines:
//
//	  Avalanche forecast for <zone> on <date>: <summary>
//	  <permalink base><product id>
//	  <attribution>
//
//	The permalink line is the enrichment marker. It must appear on a line of
//	its own and end in a numeric product id, e.g.
//	"https://api.avalanche.org/v2/public/product/166377". See [MarkerFormat].
//
// Target date:
//
//	Forecast zones publish per civil date, so the activity's local start date
//	is preferred. The UTC start date is used only when the local time is absent.
//
// # Branches
//
// Every notification resolves to exactly one [Branch]:
//
//	skip                nothing to do (wrong type, no marker, already enriched)
//	auto_enrich         BackcountrySki created without a forecast
//	manual_enrich       marker present, no forecast yet
//	manual_refresh      marker present, previous forecast replaced
//	manual_no_location  marker present, activity has no GPS start point
//
// No branch issues more than one activity update.
package domain
