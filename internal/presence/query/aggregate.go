package query

import (
	"sort"
	"time"

	"presence-tracker/internal/models"
)

const dateLayout = "2006-01-02"

// DayTotal is the online time that fell on one calendar day.
type DayTotal struct {
	Date            string `json:"date"`
	ActiveUserCount int    `json:"activeUserCount"`
	TotalDurationMs int64  `json:"totalDurationMs"`
}

// UserTotal is one user's online time inside the report window.
type UserTotal struct {
	UserID          string `json:"userId"`
	TotalDurationMs int64  `json:"totalDurationMs"`
	SessionCount    int    `json:"sessionCount"`
}

// OnlineTimeReport answers "how long was each user online between From and To".
type OnlineTimeReport struct {
	From            time.Time   `json:"from"`
	To              time.Time   `json:"to"`
	Timezone        string      `json:"timezone"`
	Days            []DayTotal  `json:"days"`
	Users           []UserTotal `json:"users"`
	TotalDurationMs int64       `json:"totalDurationMs"`
}

type dayBucket struct {
	durationMs int64
	users      map[string]struct{}
}

// Aggregate clamps each session to [from, to] and splits it at midnight in
// loc. Days without online time are omitted; days and users come back sorted.
func Aggregate(sessions []*models.Session, from, to time.Time, loc *time.Location) *OnlineTimeReport {
	if loc == nil {
		loc = time.UTC
	}
	days := make(map[string]*dayBucket)
	users := make(map[string]*UserTotal)

	for _, s := range sessions {
		start := s.StartedAt
		if start.Before(from) {
			start = from
		}
		end := s.EffectiveEnd()
		if end.After(to) {
			end = to
		}
		if !end.After(start) {
			continue
		}

		u := users[s.UserID]
		if u == nil {
			u = &UserTotal{UserID: s.UserID}
			users[s.UserID] = u
		}
		u.SessionCount++

		for cur := start; cur.Before(end); {
			local := cur.In(loc)
			midnight := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
			segEnd := end
			if midnight.Before(segEnd) {
				segEnd = midnight
			}
			ms := segEnd.Sub(cur).Milliseconds()

			key := local.Format(dateLayout)
			b := days[key]
			if b == nil {
				b = &dayBucket{users: make(map[string]struct{})}
				days[key] = b
			}
			b.durationMs += ms
			b.users[s.UserID] = struct{}{}
			u.TotalDurationMs += ms

			cur = segEnd
		}
	}

	report := &OnlineTimeReport{
		From:     from,
		To:       to,
		Timezone: loc.String(),
		Days:     make([]DayTotal, 0, len(days)),
		Users:    make([]UserTotal, 0, len(users)),
	}
	for date, b := range days {
		report.Days = append(report.Days, DayTotal{
			Date:            date,
			ActiveUserCount: len(b.users),
			TotalDurationMs: b.durationMs,
		})
		report.TotalDurationMs += b.durationMs
	}
	for _, u := range users {
		report.Users = append(report.Users, *u)
	}
	sort.Slice(report.Days, func(i, j int) bool { return report.Days[i].Date < report.Days[j].Date })
	sort.Slice(report.Users, func(i, j int) bool { return report.Users[i].UserID < report.Users[j].UserID })
	return report
}
