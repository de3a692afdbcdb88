package rules

import "time"

// InCooldown reports whether the rule is suppressed at now. A rule that has
// never fired is never suppressed. CooldownMinutes of zero is a zero-width
// window: a rule that fired this instant is immediately eligible again.
func InCooldown(r *Rule, now time.Time) bool {
	if r.LastTriggeredAt == nil {
		return false
	}
	cooldown := time.Duration(r.CooldownMinutes) * time.Minute
	return now.Sub(*r.LastTriggeredAt) < cooldown
}

// CooldownWindow returns the duration of the rule's suppression window.
func CooldownWindow(r *Rule) time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}
