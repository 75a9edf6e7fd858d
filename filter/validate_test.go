package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wearlab/polar-pipeline/table"
)

func TestResolveDateColumnPrecedence(t *testing.T) {
	tbl := table.New("dateTime", "start", "value")
	col, ok := ResolveDateColumn(tbl)
	require.True(t, ok)
	assert.Equal(t, "start", col, "start outranks dateTime")

	tbl = table.New("date", "start")
	col, _ = ResolveDateColumn(tbl)
	assert.Equal(t, "date", col)

	_, ok = ResolveDateColumn(table.New("value"))
	assert.False(t, ok)
}

func TestFilterByDate(t *testing.T) {
	tbl := table.New("date", "v")
	tbl.Append(table.Row{"date": "2021-03-01", "v": "1"})
	tbl.Append(table.Row{"date": "2019-12-31", "v": "2"}) // before the floor
	tbl.Append(table.Row{"date": "garbage", "v": "3"})
	tbl.Append(table.Row{"v": "4"}) // null date
	tbl.Append(table.Row{"date": "2020-01-01", "v": "5"})

	got := FilterByDate(tbl, "date")
	require.Equal(t, 2, got.Len())
	v, _ := got.Rows[0].Get("v")
	assert.Equal(t, "1", v, "order preserved")
	d, _ := got.Rows[1].Get("date")
	assert.Equal(t, "2020-01-01", d, "floor is inclusive")
}

func TestFilterByDateIdempotent(t *testing.T) {
	tbl := table.New("date")
	tbl.Append(table.Row{"date": "2021-06-01"})
	tbl.Append(table.Row{"date": "2018-06-01"})

	once := FilterByDate(tbl, "date")
	twice := FilterByDate(once, "date")
	assert.Equal(t, once.Rows, twice.Rows)
}

func TestFilterByDateAbsentColumn(t *testing.T) {
	tbl := table.New("v")
	tbl.Append(table.Row{"v": "1"})
	got := FilterByDate(tbl, "date")
	assert.Same(t, tbl, got, "tables without the column pass through")
}
