package http

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"registro/internal/core"
	"registro/internal/report"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// parseSelection builds a period selection from query parameters. An absent
// or unrecognized mode falls back to the current month.
func parseSelection(r *http.Request, cycleStart func() report.Selection) report.Selection {
	q := r.URL.Query()

	switch q.Get("mode") {
	case string(report.ModeCustom):
		start := strings.TrimSpace(q.Get("start"))
		end := strings.TrimSpace(q.Get("end"))
		return report.CustomSelection(core.Date(start), core.Date(end))
	case string(report.ModeCycle):
		return cycleStart()
	case string(report.ModeMonth), "":
		now := time.Now()
		year := now.Year()
		month := int(now.Month())
		if v := strings.TrimSpace(q.Get("year")); v != "" {
			if y, err := strconv.Atoi(v); err == nil {
				year = y
			}
		}
		if v := strings.TrimSpace(q.Get("month")); v != "" {
			if m, err := strconv.Atoi(v); err == nil && m >= 1 && m <= 12 {
				month = m
			}
		}
		return report.MonthSelection(year, time.Month(month))
	default:
		return report.CurrentMonth(time.Now())
	}
}
