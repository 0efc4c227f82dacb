package orchestrator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Wattine-core-poc/server/internal/assistant/model"
)

// timePattern pairs a label with its matcher. The table is ordered and
// first-match-wins: that ordering is a contract ("last 7 days" must win over
// the generic relative pattern), not an accident.
type timePattern struct {
	label string
	re    *regexp.Regexp
}

var timePatterns = []timePattern{
	{"today", regexp.MustCompile(`\btoday\b`)},
	{"yesterday", regexp.MustCompile(`\byesterday\b`)},
	{"this_week", regexp.MustCompile(`\bthis\s+week\b`)},
	{"this_month", regexp.MustCompile(`\bthis\s+month\b`)},
	{"last_week", regexp.MustCompile(`\b(?:last|past)\s+week\b`)},
	{"last_7_days", regexp.MustCompile(`\b(?:last|past)\s+7\s*days\b`)},
	{"relative", regexp.MustCompile(`\b(?:last|past)\s*(\d+)\s*(minutes?|hours?|days?|weeks?|months?)\b`)},
}

// ResolveTimeWindow maps a natural-language time phrase in text to a concrete
// UTC window. Local semantics first ("today" is local midnight to local now),
// then converted to UTC. Returns nil when no phrase matches: defaulting is the
// dispatcher's decision, never the resolver's.
func ResolveTimeWindow(text string, now time.Time, loc *time.Location) *model.TimeWindow {
	if loc == nil {
		loc = time.UTC
	}
	nowLocal := now.In(loc)

	for _, p := range timePatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}

		switch p.label {
		case "today":
			return toUTCWindow("today", startOfDay(nowLocal), nowLocal, model.GranHour)

		case "yesterday":
			start := startOfDay(nowLocal.AddDate(0, 0, -1))
			end := startOfDay(nowLocal).Add(-time.Microsecond)
			return toUTCWindow("yesterday", start, end, model.GranHour)

		case "this_week":
			wd := int(nowLocal.Weekday())
			if wd == 0 {
				wd = 7
			}
			start := startOfDay(nowLocal.AddDate(0, 0, -(wd - 1)))
			return toUTCWindow("this_week_so_far", start, nowLocal, model.GranDay)

		case "this_month":
			y, mo, _ := nowLocal.Date()
			start := time.Date(y, mo, 1, 0, 0, 0, 0, loc)
			return toUTCWindow("this_month_so_far", start, nowLocal, model.GranDay)

		case "last_week", "last_7_days":
			return toUTCWindow("last_7_days", nowLocal.AddDate(0, 0, -7), nowLocal, model.GranDay)

		case "relative":
			n, err := strconv.Atoi(m[1])
			if err != nil || n <= 0 {
				return nil
			}
			unit := strings.TrimSuffix(m[2], "s")
			var delta time.Duration
			gran := model.GranDay
			switch unit {
			case "minute":
				delta = time.Duration(n) * time.Minute
				gran = model.GranMinute
			case "hour":
				delta = time.Duration(n) * time.Hour
				gran = model.GranHour
			case "day":
				delta = time.Duration(n) * 24 * time.Hour
			case "week":
				delta = time.Duration(n) * 7 * 24 * time.Hour
			case "month":
				// Calendar months vary; 30 days is the accepted approximation.
				delta = time.Duration(n) * 30 * 24 * time.Hour
			default:
				return nil
			}
			label := fmt.Sprintf("last_%d_%ss", n, unit)
			return toUTCWindow(label, nowLocal.Add(-delta), nowLocal, gran)
		}
	}

	return nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func toUTCWindow(label string, start, end time.Time, gran model.Granularity) *model.TimeWindow {
	return &model.TimeWindow{
		Label:       label,
		Start:       start.UTC(),
		End:         end.UTC(),
		Granularity: gran,
	}
}
