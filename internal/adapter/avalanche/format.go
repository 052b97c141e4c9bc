package avalanche

import (
	"fmt"
	"strings"
)

var dangerNames = map[int]string{
	1: "Low",
	2: "Moderate",
	3: "Considerable",
	4: "High",
	5: "Extreme",
}

// DangerName returns the North American danger scale name for level.
func DangerName(level int) string {
	if name, ok := dangerNames[level]; ok {
		return name
	}
	return "No Rating"
}

// Summarize renders the current-day danger ratings as a single line, e.g.
// "Considerable (3) above treeline, Moderate (2) near treeline, Low (1) below treeline".
func Summarize(ratings []DangerRating) string {
	r, ok := currentDay(ratings)
	if !ok {
		return "No danger rating issued"
	}
	bands := []struct {
		level int
		label string
	}{
		{r.Upper, "above treeline"},
		{r.Middle, "near treeline"},
		{r.Lower, "below treeline"},
	}
	parts := make([]string, 0, len(bands))
	for _, b := range bands {
		if b.level >= 1 && b.level <= 5 {
			parts = append(parts, fmt.Sprintf("%s (%d) %s", DangerName(b.level), b.level, b.label))
		} else {
			parts = append(parts, "No Rating "+b.label)
		}
	}
	return strings.Join(parts, ", ")
}

func currentDay(ratings []DangerRating) (DangerRating, bool) {
	for _, r := range ratings {
		if r.ValidDay == "current" {
			return r, true
		}
	}
	if len(ratings) > 0 {
		return ratings[0], true
	}
	return DangerRating{}, false
}
