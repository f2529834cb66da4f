package domain

import "time"

// Live reports whether the session still blocks a new start: active and deadline in the future.
func (s Session) Live(now time.Time) bool {
	return s.Status == SessionActive && s.ExpiresAt.After(now)
}

// AcceptsAnswers reports whether an answer submitted at now is on time.
func (s Session) AcceptsAnswers(now time.Time) bool {
	return s.Status == SessionActive && !now.After(s.ExpiresAt)
}

// SecondsUntil returns the whole seconds left before deadline, never negative.
func SecondsUntil(deadline, now time.Time) int {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}
