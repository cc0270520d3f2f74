package calendar

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2024-01-01", "2024-01-01"},
		{" 2024-03-09 ", "2024-03-09"},
		{"2024-01-01T23:00:00+05:30", "2024-01-01"},
		{"2024-01-01T17:30:00Z", "2024-01-01"},
		{"2024-01-01T19:00:00Z", "2024-01-02"}, // 00:30 IST next day
		{"2024-01-01 10:15:00+00:00", "2024-01-01"},
		{"2024-01-01 22:00:00-05", "2024-01-02"},
		{"2024-01-01T23:59:59", "2024-01-01"},
		{"2024-02-29 08:00:00.123456", "2024-02-29"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "yesterday", "2024-13-01", "01/02/2024"} {
		d, err := Parse(in)
		assert.Error(t, err, in)
		assert.True(t, d.IsZero(), in)
	}
}

func TestSameDayAcrossZonesIsEqual(t *testing.T) {
	a := MustParse("2024-06-10T23:00:00+05:30")
	b := MustParse("2024-06-10T17:30:00Z")
	c := Of(time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC))
	assert.True(t, a.Equal(b))
	assert.True(t, b.Equal(c))
	assert.True(t, a.Equal(MustParse("2024-06-10")))
}

func TestZeroDateNeverEqual(t *testing.T) {
	var zero Date
	assert.False(t, zero.Equal(zero))
	assert.False(t, zero.Equal(MustParse("2024-01-01")))
	assert.True(t, zero.Before(MustParse("0001-01-02")))
	assert.False(t, Unbounded().Contains(zero))
}

func TestAddDaysAndRanges(t *testing.T) {
	d := MustParse("2024-03-01")
	assert.Equal(t, "2024-02-29", d.AddDays(-1).String())
	assert.Equal(t, "2024-03-31", d.AddDays(30).String())

	week := Trailing(MustParse("2024-01-14"), 7)
	assert.Equal(t, "2024-01-08", week.Start.String())
	assert.Equal(t, "2024-01-14", week.End.String())
	assert.True(t, week.Contains(MustParse("2024-01-08")))
	assert.True(t, week.Contains(MustParse("2024-01-14")))
	assert.False(t, week.Contains(MustParse("2024-01-07")))
	assert.Equal(t, "2024-01-08..2024-01-14", week.String())

	assert.True(t, Since(d).Contains(MustParse("2100-01-01")))
	assert.True(t, On(d).Contains(d))
}

func TestScan(t *testing.T) {
	var d Date

	require.NoError(t, d.Scan(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-05-01", d.String())

	require.NoError(t, d.Scan(time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-05-02", d.String())

	// Midnight outside UTC is an instant like any other.
	require.NoError(t, d.Scan(time.Date(2024, 1, 2, 0, 0, 0, 0, time.FixedZone("", 14*3600))))
	assert.Equal(t, "2024-01-01", d.String())

	require.NoError(t, d.Scan([]byte("2024-05-03")))
	assert.Equal(t, "2024-05-03", d.String())

	require.NoError(t, d.Scan("not a date"))
	assert.True(t, d.IsZero())

	require.NoError(t, d.Scan(nil))
	assert.True(t, d.IsZero())

	assert.Error(t, d.Scan(42))
}

func TestValue(t *testing.T) {
	v, err := MustParse("2024-01-02").Value()
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", v)

	v, err = Date{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestJSONRoundTrip(t *testing.T) {
	type payload struct {
		Date    Date `json:"date"`
		Missing Date `json:"missing"`
	}
	b, err := json.Marshal(payload{Date: MustParse("2024-07-04")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2024-07-04","missing":null}`, string(b))

	var got payload
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, MustParse("2024-07-04"), got.Date)
	assert.True(t, got.Missing.IsZero())
}

func TestLoadLocationFallback(t *testing.T) {
	loc, err := LoadLocation("Nowhere/Invalid")
	assert.Error(t, err)
	assert.Equal(t, IST, loc)

	loc, err = LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, IST, loc)
}
