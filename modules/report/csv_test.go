package report_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guarzo/qualityapi/common/model"
	"github.com/guarzo/qualityapi/modules/report"
)

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	err := report.WriteTable(&buf, []string{"a", "b", "c"}, [][]string{
		{"1", "x;y", "3"},
		{"only"},
	})
	require.NoError(t, err)
	assert.Equal(t, "a;b;c\n1;\"x;y\";3\nonly;;\n", buf.String())
}

func TestMarshal(t *testing.T) {
	rows := []model.GroupRow{
		{Group: "obra", Universe: 10, Open: 4, Closed: 6, Aconex: 2},
		{Group: "ie", Universe: 1},
	}
	out, err := report.Marshal(rows)
	require.NoError(t, err)
	assert.Equal(t, "grupo;universo;abiertos;cerrados;aconex\nobra;10;4;6;2\nie;1;0;0;0\n", string(out))
}

func TestMarshal_Empty(t *testing.T) {
	_, err := report.Marshal([]model.SubsystemRow{})
	assert.True(t, errors.Is(err, report.ErrNoRows))
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "grupos.csv", report.Filename("grupos"))
	assert.Equal(t, "grupos.csv", report.Filename("grupos.csv"))
	assert.Equal(t, "Data.CSV", report.Filename(" Data.CSV "))
	assert.Equal(t, "subsistemas_general.csv", report.Filename("subsistemas_general"))
}
