package domain

import (
	"fmt"
	"strings"
)

// forecastHeaderPrefix starts the first line of every appended forecast block.
const forecastHeaderPrefix = "Avalanche forecast for "

// NoLocationNote is appended when a manual request targets an activity without GPS data.
const NoLocationNote = "[Avalanche forecast unavailable: this activity has no location data.]"

// UnavailableNote is the bracketed note appended on the manual path when no
// forecast could be produced.
func UnavailableNote(reason string) string {
	reason = strings.TrimSuffix(oneLine(reason), ".")
	if reason == "" {
		reason = "no forecast was available"
	}
	return fmt.Sprintf("[Avalanche forecast unavailable: %s.]", reason)
}

// ManualMarker is the literal title token requesting an on-demand enrichment.
type ManualMarker string

// In reports whether title carries the marker. Matching is case-sensitive.
func (m ManualMarker) In(title string) bool {
	return m != "" && strings.Contains(title, string(m))
}

// Strip removes every occurrence of the marker and normalizes whitespace.
func (m ManualMarker) Strip(title string) string {
	if m == "" {
		return title
	}
	return strings.Join(strings.Fields(strings.ReplaceAll(title, string(m), " ")), " ")
}

// EnrichmentMarker identifies a forecast block already present in a description.
type EnrichmentMarker struct {
	ProductID string
	Permalink string
}

// MarkerFormat renders forecast blocks and recognizes them again. A block is
// recognized only by its permalink line: PermalinkBase followed by a numeric
// product id, alone on its line.
type MarkerFormat struct {
	PermalinkBase string
	Attribution   string
}

// Permalink returns the permalink URL for a forecast product.
func (f MarkerFormat) Permalink(productID string) string {
	return f.PermalinkBase + productID
}

// Find returns the first enrichment marker in description.
func (f MarkerFormat) Find(description string) (EnrichmentMarker, bool) {
	for _, line := range strings.Split(description, "\n") {
		if id, ok := f.match(line); ok {
			return EnrichmentMarker{ProductID: id, Permalink: f.Permalink(id)}, true
		}
	}
	return EnrichmentMarker{}, false
}

// Strip removes every forecast block from description: each permalink line,
// the header line directly above it and the attribution line directly below.
// Other lines are preserved as written, except blank lines left doubled by a
// removed block.
func (f MarkerFormat) Strip(description string) string {
	lines := strings.Split(description, "\n")
	drop := make([]bool, len(lines))
	for i, line := range lines {
		if _, ok := f.match(line); !ok {
			continue
		}
		drop[i] = true
		if i > 0 && strings.HasPrefix(strings.TrimSpace(lines[i-1]), forecastHeaderPrefix) {
			drop[i-1] = true
		}
		if i+1 < len(lines) && f.Attribution != "" && strings.TrimSpace(lines[i+1]) == f.Attribution {
			drop[i+1] = true
		}
	}

	// A removed block leaves its separating blank lines on both sides; keep at
	// most one so repeated refreshes do not grow the gap.
	kept := make([]string, 0, len(lines))
	removed := false
	for i, line := range lines {
		if drop[i] {
			removed = true
			continue
		}
		blank := strings.TrimSpace(line) == ""
		if removed && blank && (len(kept) == 0 || strings.TrimSpace(kept[len(kept)-1]) == "") {
			continue
		}
		if !blank {
			removed = false
		}
		kept = append(kept, line)
	}
	return strings.TrimRight(strings.Join(kept, "\n"), " \t\r\n")
}

// AppendForecast appends a forecast block for date to description.
func (f MarkerFormat) AppendForecast(description string, fc Forecast, date string) string {
	block := []string{
		fmt.Sprintf("%s%s on %s: %s", forecastHeaderPrefix, oneLine(fc.ZoneName), date, oneLine(fc.Summary)),
		f.Permalink(fc.ProductID),
	}
	if f.Attribution != "" {
		block = append(block, f.Attribution)
	}
	return AppendNote(description, strings.Join(block, "\n"))
}

// AppendNote appends text to description separated by a blank line.
func AppendNote(description, text string) string {
	description = strings.TrimRight(description, " \t\r\n")
	if description == "" {
		return text
	}
	return description + "\n\n" + text
}

func (f MarkerFormat) match(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if f.PermalinkBase == "" || !strings.HasPrefix(line, f.PermalinkBase) {
		return "", false
	}
	id := line[len(f.PermalinkBase):]
	if !numericID(id) {
		return "", false
	}
	return id, true
}

func numericID(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
