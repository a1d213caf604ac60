package extractor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var relativeDatePattern = regexp.MustCompile(`^([+-]?\d+)\s*(day|days|week|weeks|month|months|year|years)$`)

// formatDate resolves an absolute or relative date expression ("2018-01-01",
// "now", "-9 days") to a YYYY-MM-DD string. An empty input defaults to
// yesterday, matching the report defaults of the vendor UI.
func formatDate(input string, now time.Time) (string, error) {
	expr := strings.ToLower(strings.TrimSpace(input))
	if expr == "" {
		expr = "-1 day"
	}

	switch expr {
	case "now", "today":
		return now.Format("2006-01-02"), nil
	case "yesterday":
		return now.AddDate(0, 0, -1).Format("2006-01-02"), nil
	}

	if matches := relativeDatePattern.FindStringSubmatch(expr); matches != nil {
		count, err := strconv.Atoi(matches[1])
		if err != nil {
			return "", fmt.Errorf("date %q in restrictionFilter is not valid", input)
		}
		switch strings.TrimSuffix(matches[2], "s") {
		case "day":
			return now.AddDate(0, 0, count).Format("2006-01-02"), nil
		case "week":
			return now.AddDate(0, 0, 7*count).Format("2006-01-02"), nil
		case "month":
			return now.AddDate(0, count, 0).Format("2006-01-02"), nil
		case "year":
			return now.AddDate(count, 0, 0).Format("2006-01-02"), nil
		}
	}

	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339} {
		if parsed, err := time.Parse(layout, strings.TrimSpace(input)); err == nil {
			return parsed.Format("2006-01-02"), nil
		}
	}

	return "", fmt.Errorf("date %q in restrictionFilter is not valid", input)
}
