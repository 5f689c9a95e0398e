package dashboard_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/guarzo/qualityapi/common/model"
	"github.com/guarzo/qualityapi/modules/dashboard"
)

func TestAggregateSubsystems(t *testing.T) {
	got := dashboard.AggregateSubsystems(
		[]model.SubsystemRow{{Subsystem: "A", Universe: 1, AconexPending: 1}},
		nil,
		[]model.SubsystemRow{{Subsystem: "B", Universe: 2}, {Subsystem: "A", Universe: 3, PendingClose: 2}},
	)
	assert.Equal(t, []model.SubsystemRow{
		{Subsystem: "A", Universe: 4, PendingClose: 2, AconexPending: 1},
		{Subsystem: "B", Universe: 2},
	}, got)

	assert.Empty(t, dashboard.AggregateSubsystems())
}

func TestSortSubsystems(t *testing.T) {
	rows := []model.SubsystemRow{
		{Subsystem: "SS-10"}, {Subsystem: "ss-9"}, {Subsystem: "Énergía"}, {Subsystem: "SS-100"}, {Subsystem: "energia-2"},
	}
	dashboard.SortSubsystems(rows)

	var names []string
	for _, r := range rows {
		names = append(names, r.Subsystem)
	}
	assert.Equal(t, []string{"Énergía", "energia-2", "ss-9", "SS-10", "SS-100"}, names)
}

func TestComputeDuplicateStats(t *testing.T) {
	cases := []struct {
		name string
		rows []model.DuplicateRow
		want dashboard.DuplicateStats
	}{
		{"none", nil, dashboard.DuplicateStats{}},
		{"singles ignored", []model.DuplicateRow{{Count: 1}, {Count: 0}}, dashboard.DuplicateStats{}},
		{"mixed", []model.DuplicateRow{{Count: 2}, {Count: 5}, {Count: 1}}, dashboard.DuplicateStats{Keys: 2, Extras: 5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, dashboard.ComputeDuplicateStats(tc.rows))
		})
	}
}

func TestCardPercentages(t *testing.T) {
	assert.Equal(t, dashboard.Percentages{}, dashboard.CardPercentages(model.Cards{}))
	assert.Equal(t, dashboard.Percentages{Closed: 33, Open: 67}, dashboard.CardPercentages(model.Cards{Universe: 3, Closed: 1, Open: 2}))
	assert.Equal(t, dashboard.Percentages{Closed: 13, Open: 88}, dashboard.CardPercentages(model.Cards{Universe: 8, Closed: 1, Open: 7}))
}

func TestLookupDownload(t *testing.T) {
	d, ok := dashboard.LookupDownload("duplicates-strict")
	assert.True(t, ok)
	assert.Equal(t, "/aconex/duplicates.csv", d.Path)
	assert.Equal(t, "true", d.Query.Get("strict"))

	_, ok = dashboard.LookupDownload("nope")
	assert.False(t, ok)
	assert.Len(t, dashboard.Downloads(), 6)
}
