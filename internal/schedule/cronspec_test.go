package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCron(t *testing.T) {
	valid := []string{
		"* * * * *",
		"*/5 * * * *",
		"0 9 * * 1-5",
		"30 8,20 1 * *",
		"0 0 1-15/2 * 0",
	}
	for _, expr := range valid {
		assert.NoError(t, ValidateCron(expr), expr)
	}

	invalid := []string{
		"",
		"* * * *",        // 4 fields
		"* * * * * *",    // 6 fields
		"61 * * * *",     // minute out of range
		"* 25 * * *",     // hour out of range
		"@hourly",        // descriptors rejected
		"* * * * mon-fx", // bad day name
	}
	for _, expr := range invalid {
		assert.Error(t, ValidateCron(expr), expr)
	}
}

func TestValidateTimezone(t *testing.T) {
	assert.NoError(t, ValidateTimezone("UTC"))
	assert.NoError(t, ValidateTimezone("Europe/Berlin"))
	assert.NoError(t, ValidateTimezone("America/New_York"))
	assert.Error(t, ValidateTimezone(""))
	assert.Error(t, ValidateTimezone("Mars/Olympus"))
}

func TestNextRunEveryFiveMinutes(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 2, 30, 0, time.UTC)
	next, err := NextRun("*/5 * * * *", "UTC", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 12, 5, 0, 0, time.UTC), next)
}

func TestNextRunStrictlyAfterNow(t *testing.T) {
	// Exactly on a boundary: the next firing is the following slot.
	now := time.Date(2024, 3, 10, 12, 5, 0, 0, time.UTC)
	next, err := NextRun("*/5 * * * *", "UTC", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 12, 10, 0, 0, time.UTC), next)
}

func TestNextRunHonorsTimezone(t *testing.T) {
	// 09:00 in Berlin (CET, UTC+1) on a winter day is 08:00 UTC.
	now := time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)
	next, err := NextRun("0 9 * * *", "Europe/Berlin", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC), next)

	// Same wall-clock schedule in summer (CEST, UTC+2) is 07:00 UTC.
	now = time.Date(2024, 7, 15, 6, 0, 0, 0, time.UTC)
	next, err = NextRun("0 9 * * *", "Europe/Berlin", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 7, 15, 7, 0, 0, 0, time.UTC), next)
}

func TestNextRunWeekday(t *testing.T) {
	// Friday 2024-03-08 18:00 UTC; next weekday 09:00 is Monday 03-11.
	now := time.Date(2024, 3, 8, 18, 0, 0, 0, time.UTC)
	next, err := NextRun("0 9 * * 1-5", "UTC", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC), next)
}

func TestFingerprintChanges(t *testing.T) {
	base := &Schedule{CronExpression: "* * * * *", Timezone: "UTC", TimeoutSeconds: 900}
	same := &Schedule{CronExpression: "* * * * *", Timezone: "UTC", TimeoutSeconds: 900}
	assert.Equal(t, FingerprintOf(base), FingerprintOf(same))

	changedTools := *same
	empty := []string{}
	changedTools.AllowedTools = &empty
	// Empty list and absent list are distinct configurations.
	assert.NotEqual(t, FingerprintOf(base), FingerprintOf(&changedTools))

	changedTz := *same
	changedTz.Timezone = "Europe/Berlin"
	assert.NotEqual(t, FingerprintOf(base), FingerprintOf(&changedTz))
}
