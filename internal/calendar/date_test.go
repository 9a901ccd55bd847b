package calendar

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLayouts(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"2024-01-15", "2024-01-15"},
		{" 2024/01/15 ", "2024-01-15"},
		{"15/01/2024", "2024-01-15"},
		{"2024-01-15 23:59:59", "2024-01-15"},
		{"2024-01-15T08:00:00", "2024-01-15"},
		{"2024-01-15T23:30:00-03:00", "2024-01-15"},
	}
	for _, c := range cases {
		got, err := Parse(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got.String(), c.in)
	}
}

func TestParseRejects(t *testing.T) {
	_, err := Parse("")
	assert.ErrorIs(t, err, ErrEmpty)
	_, err = Parse("2024-13-40")
	assert.Error(t, err)
	_, err = Parse("yesterday")
	assert.Error(t, err)

	for _, v := range []string{"0001-01-01", "0001-01-01T00:00:00Z", "1899-12-31"} {
		_, err = Parse(v)
		assert.Error(t, err, v)
	}
	var d Date
	assert.Error(t, json.Unmarshal([]byte(`"0001-01-01"`), &d), "a real-looking date must not decode as absent")
	first, err := Parse("1900-01-01")
	require.NoError(t, err)
	assert.False(t, first.IsZero())
}

func TestDaysBetweenIgnoresZoneAndDST(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// Brazil observed DST in 2018; the calendar distance must still be whole days.
	start := In(time.Date(2018, 11, 3, 23, 0, 0, 0, loc), loc)
	end := In(time.Date(2018, 11, 5, 0, 30, 0, 0, loc), loc)
	assert.Equal(t, 2, DaysBetween(start, end))
	assert.Equal(t, -2, DaysBetween(end, start))
}

func TestInUsesLocation(t *testing.T) {
	ts := time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)
	west := time.FixedZone("UTC-3", -3*60*60)
	assert.Equal(t, "2024-02-29", In(ts, west).String())
	assert.Equal(t, "2024-03-01", In(ts, nil).String())
	assert.True(t, In(time.Time{}, west).IsZero())
}

func TestAddMonthsClamped(t *testing.T) {
	jan31 := New(2024, time.January, 31)
	assert.Equal(t, "2024-02-29", jan31.AddMonthsClamped(1, 0).String())
	assert.Equal(t, "2023-02-28", New(2023, time.January, 31).AddMonthsClamped(1, 0).String())
	assert.Equal(t, "2024-04-30", jan31.AddMonthsClamped(3, 0).String())
	assert.Equal(t, "2025-01-31", New(2024, time.December, 31).AddMonthsClamped(1, 0).String())
	// an explicit anchor restores the original day once the month allows it
	assert.Equal(t, "2024-03-31", New(2024, time.February, 29).AddMonthsClamped(1, 31).String())
}

func TestDaysIn(t *testing.T) {
	assert.Equal(t, 29, DaysIn(2024, time.February))
	assert.Equal(t, 28, DaysIn(2100, time.February))
	assert.Equal(t, 31, DaysIn(2024, time.December))
}

func TestJSONRoundTripAndNull(t *testing.T) {
	type payload struct {
		D Date `json:"d"`
	}
	b, err := json.Marshal(payload{D: New(2024, 1, 2)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"2024-01-02"}`, string(b))

	b, err = json.Marshal(payload{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":null}`, string(b))

	var p payload
	require.NoError(t, json.Unmarshal([]byte(`{"d":""}`), &p))
	assert.True(t, p.D.IsZero())
	assert.Error(t, json.Unmarshal([]byte(`{"d":20240102}`), &p))
}

func TestScanValue(t *testing.T) {
	var d Date
	require.NoError(t, d.Scan("2024-05-06"))
	assert.Equal(t, New(2024, 5, 6), d)
	require.NoError(t, d.Scan([]byte("2024-05-07")))
	assert.Equal(t, New(2024, 5, 7), d)
	require.NoError(t, d.Scan(time.Date(2024, 5, 8, 13, 0, 0, 0, time.UTC)))
	assert.Equal(t, New(2024, 5, 8), d)
	require.NoError(t, d.Scan(nil))
	assert.True(t, d.IsZero())
	assert.Error(t, d.Scan(42))

	v, err := New(2024, 5, 6).Value()
	require.NoError(t, err)
	assert.Equal(t, "2024-05-06", v)
	v, err = Date{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}
