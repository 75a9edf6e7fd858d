package table

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateLayouts(t *testing.T) {
	want := Date{Year: 2021, Month: time.March, Day: 14}
	for _, s := range []string{
		"2021-03-14",
		"2021-03-14T09:26:53",
		"2021-03-14 09:26:53",
		"2021-03-14T09:26",
		"2021-03-14T09:26:53Z",
		" 2021-03-14 ",
	} {
		got, err := ParseDate(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, got, s)
	}
}

func TestParseDateRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "not a date", "14/03/2021", "2021-3-14"} {
		_, err := ParseDate(s)
		assert.Error(t, err, s)
	}
}

func TestDateStringCanonical(t *testing.T) {
	d := Date{Year: 2021, Month: time.March, Day: 4}
	assert.Equal(t, "2021-03-04", d.String())

	// String and Parse agree, so string-keyed joins cannot drift.
	back, err := ParseDate(d.String())
	require.NoError(t, err)
	assert.Equal(t, d, back)
}

func TestDateOrdering(t *testing.T) {
	a := Date{Year: 2020, Month: time.December, Day: 31}
	b := Date{Year: 2021, Month: time.January, Day: 1}
	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.False(t, a.Before(a))
}

func TestWindowContains(t *testing.T) {
	start := Date{Year: 2021, Month: time.January, Day: 1}
	end := Date{Year: 2021, Month: time.December, Day: 31}

	w := Window{Start: start, End: end}
	assert.True(t, w.Contains(start), "bounds are inclusive")
	assert.True(t, w.Contains(end))
	assert.False(t, w.Contains(Date{Year: 2020, Month: time.December, Day: 31}))
	assert.False(t, w.Contains(Date{Year: 2022, Month: time.January, Day: 1}))

	open := Window{}
	assert.True(t, open.Contains(Date{Year: 1999, Month: time.June, Day: 15}), "zero bounds are open")

	onlyStart := Window{Start: start}
	assert.True(t, onlyStart.Contains(Date{Year: 2030, Month: time.January, Day: 1}))
	assert.False(t, onlyStart.Contains(Date{Year: 2019, Month: time.June, Day: 1}))
}
