package common

import "strings"

// ErrorContainsAny reports whether the lower-cased error text contains any of subs.
// Database drivers rarely expose typed errors for schema problems, so callers
// match on message fragments.
func ErrorContainsAny(err error, subs ...string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sub := range subs {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}

// IsMissingRelation reports whether err says a table does not exist, in the
// wording of SQLite ("no such table") or Postgres ("relation ... does not exist").
func IsMissingRelation(err error) bool {
	return ErrorContainsAny(err, "no such table", "does not exist")
}
