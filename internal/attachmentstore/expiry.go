package attachmentstore

import (
	"net/url"
	"strconv"
	"time"
)

// Expired reports whether u lacks an `ex` query parameter, has a malformed
// one, or expires within margin of now (spec.md §4.C: margin is 0 for the
// download engine's default policy, 5 minutes for the range-stream policy).
func Expired(rawURL string, margin time.Duration, now time.Time) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	ex := u.Query().Get("ex")
	if ex == "" {
		return true
	}
	ts, err := strconv.ParseInt(ex, 16, 64)
	if err != nil {
		return true
	}
	expiresAt := time.Unix(ts, 0)
	return !expiresAt.After(now.Add(margin))
}
