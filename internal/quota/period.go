package quota

import "time"

// NextResetDate returns the first instant of the month following now, in UTC.
// Monthly quota periods are anchored to calendar months.
func NextResetDate(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

// AdvanceResetDate rolls resetDate forward by whole months until it is
// strictly after now. A reset date already in the future is returned
// unchanged. Accounts idle across several periods advance multiple months
// in one step.
func AdvanceResetDate(resetDate, now time.Time) time.Time {
	for !resetDate.After(now) {
		resetDate = resetDate.AddDate(0, 1, 0)
	}
	return resetDate
}

// PeriodExpired reports whether the quota period owning resetDate has ended.
func PeriodExpired(resetDate, now time.Time) bool {
	return !now.Before(resetDate)
}
