package housekeep

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDateFromForecastKey(t *testing.T) {
	cases := []struct {
		key     string
		wantOK  bool
		wantISO string
	}{
		{"carbon_forecasts_2026-07-20.json", true, "2026-07-20"},
		{"carbon_forecasts.json", false, ""},
		{"schedule_fn-a.json", false, ""},
		{"carbon_forecasts_not-a-date.json", false, ""},
	}
	for _, c := range cases {
		date, ok := dateFromForecastKey(c.key)
		assert.Equal(t, c.wantOK, ok, "key %q", c.key)
		if ok {
			assert.Equal(t, c.wantISO, date.Format("2006-01-02"), "key %q", c.key)
		}
	}
}

func TestDateFromForecastKeyNeverMatchesUndatedPointer(t *testing.T) {
	// The "latest" forecast pointer object (carbon_forecasts.json) must
	// never be treated as a dated, purgeable snapshot.
	_, ok := dateFromForecastKey("carbon_forecasts.json")
	assert.False(t, ok, "expected the undated pointer key to never parse as a dated snapshot")
}

func TestForecastMaxAgeAndScheduleMaxAgeAreDistinct(t *testing.T) {
	assert.Equal(t, 7*24*time.Hour, forecastMaxAge)
	assert.Equal(t, 24*time.Hour, scheduleMaxAge)
}
