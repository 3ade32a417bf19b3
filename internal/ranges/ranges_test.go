package ranges

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"calibrator/internal/reconcile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDataset = `{
  "timeframes": [
    {"tf": "H1", "datos": [
      {"indicador": "SqAdx", "minimo": 10, "maximo": 40, "paso": 2},
      {"indicador": "SqAdx", "minimo": 5, "maximo": 50, "paso": 1},
      {"indicador": "SqWpr", "minimo": -100, "maximo": 0, "paso": 0.123456789},
      {"indicador": "SqUnused", "minimo": 1, "maximo": 2, "paso": 1}
    ]},
    {"timeframe": "H4", "records": [
      {"indicador": "SqAdx", "minimo": 7, "maximo": 30, "paso": 3}
    ]},
    {"name": 240, "data": []},
    {"datos": [{"indicador": "SqWpr", "minimo": -80, "maximo": -20, "paso": 5}]}
  ]
}`

func sampleMapping() reconcile.MappingTable {
	return reconcile.MappingTable{
		{External: "ADX", Internal: "SqAdx", Resolved: true},
		{External: "WilliamsPR", Internal: "SqWpr", Resolved: true},
		{External: "ObscureIndicator"},
	}
}

func TestAggregate(t *testing.T) {
	_, ok := Aggregate(nil)
	assert.False(t, ok)

	got, ok := Aggregate([]Record{
		{Min: 10, Max: 40, Step: 2},
		{Min: 5, Max: 50, Step: 1},
		{Min: 8, Max: 45, Step: 1.5},
	})
	require.True(t, ok)
	assert.Equal(t, Triple{Min: 5, Max: 50, Step: 1}, got)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 1.2346, Round(1.23456, 4))
	assert.Equal(t, 0.123457, Round(0.123456789, DefaultDecimals))
	assert.Equal(t, 3.0, Round(2.6, 0))
	assert.Equal(t, 2.123456789, Round(2.123456789, -1))
	assert.True(t, math.IsInf(Round(math.Inf(1), DefaultDecimals), 1))
	assert.True(t, math.IsInf(Round(math.Inf(-1), DefaultDecimals), -1))
	assert.True(t, math.IsNaN(Round(math.NaN(), DefaultDecimals)))
}

func TestBuildOverflowingNumbers(t *testing.T) {
	raw := []byte(`{"timeframes":[{"tf":"H1","datos":[{"indicador":"SqAdx","minimo":-1e400,"maximo":1e400,"paso":1}]}]}`)
	require.NoError(t, Validate(raw))
	ds, err := ParseDataset(raw, true)
	require.NoError(t, err)

	var tables []TimeframeTable
	require.NotPanics(t, func() { tables = Build(sampleMapping(), ds, DefaultDecimals) })
	require.Len(t, tables, 1)
	adx := tables[0].Table["ADX"]
	assert.True(t, math.IsInf(adx.Min, -1))
	assert.True(t, math.IsInf(adx.Max, 1))
	assert.Equal(t, 1.0, adx.Step)

	_, err = MarshalTable(tables[0].Table)
	assert.Error(t, err)
}

func TestParseDatasetTimeframeNames(t *testing.T) {
	ds, err := ParseDataset([]byte(sampleDataset), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"H1", "H4", "240", "tf4"}, ds.TimeframeNames())
	assert.Len(t, ds.Timeframes[0].Records, 4)
	assert.Empty(t, ds.Timeframes[2].Records)
}

func TestParseDatasetRejectsBadRecords(t *testing.T) {
	_, err := ParseDataset([]byte(`{"timeframes":[{"tf":"H1","datos":[{"indicador":"SqAdx","minimo":"5","maximo":1,"paso":1}]}]}`), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minimo must be a number")

	_, err = ParseDataset([]byte(`{"timeframes":[{"tf":"H1","datos":[{"minimo":1,"maximo":1,"paso":1}]}]}`), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing indicador")

	_, err = ParseDataset([]byte(`{"frames":[]}`), false)
	assert.Error(t, err)

	_, err = ParseDataset([]byte(`{not json`), false)
	assert.Error(t, err)
}

func TestValidateAgainstSchema(t *testing.T) {
	assert.NoError(t, Validate([]byte(sampleDataset)))

	err := Validate([]byte(`{"timeframes":[{"tf":"H1","datos":[{"indicador":"SqAdx","minimo":1,"maximo":2}]}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match schema")

	assert.Error(t, Validate([]byte(`{"timeframes": "H1"}`)))
}

func TestBuild(t *testing.T) {
	ds, err := ParseDataset([]byte(sampleDataset), false)
	require.NoError(t, err)

	tables := Build(sampleMapping(), ds, DefaultDecimals)
	require.Len(t, tables, 4)

	h1 := tables[0]
	assert.Equal(t, "H1", h1.Timeframe)
	assert.Equal(t, Table{
		"ADX":        {Min: 5, Max: 50, Step: 1},
		"WilliamsPR": {Min: -100, Max: 0, Step: 0.123457},
	}, h1.Table)

	assert.Equal(t, Table{"ADX": {Min: 7, Max: 30, Step: 3}}, tables[1].Table)
	assert.Empty(t, tables[2].Table)
	assert.Equal(t, []string{"WilliamsPR"}, tables[3].Table.Names())
}

func TestMappedSourceSkipsUnresolved(t *testing.T) {
	ds, err := ParseDataset([]byte(sampleDataset), false)
	require.NoError(t, err)
	src := NewMappedSource(sampleMapping(), ds.Timeframes[0], DefaultDecimals)

	_, ok := src.Lookup("ObscureIndicator")
	assert.False(t, ok)
	_, ok = src.Lookup("SqAdx")
	assert.False(t, ok, "lookups use external names")

	var nilSrc *MappedSource
	_, ok = nilSrc.Lookup("ADX")
	assert.False(t, ok)
}

func TestFormatFloat(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{5, "5.0"},
		{50, "50.0"},
		{1, "1.0"},
		{0, "0.0"},
		{-2.5, "-2.5"},
		{0.1, "0.1"},
		{0.0001, "0.0001"},
		{0.00001, "1e-05"},
		{1e16, "1e+16"},
		{2.5e20, "2.5e+20"},
		{123456789012345.0, "123456789012345.0"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, FormatFloat(c.in), "%v", c.in)
	}
}

func TestTripleJSON(t *testing.T) {
	raw, err := Triple{Min: 5, Max: 50, Step: 1}.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "[5.0, 50.0, 1.0]", string(raw))

	var back Triple
	require.NoError(t, back.UnmarshalJSON(raw))
	assert.Equal(t, Triple{Min: 5, Max: 50, Step: 1}, back)

	assert.Error(t, back.UnmarshalJSON([]byte("[1, 2]")))
}

func TestWriteAndReadTables(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ranges")
	tables := []TimeframeTable{
		{Timeframe: "M15", Table: Table{"ADX": {Min: 5, Max: 50, Step: 1}}},
		{Timeframe: "H1", Table: Table{}},
	}
	paths, err := WriteTables(dir, "SPX", tables)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "SPX_M15.json"),
		filepath.Join(dir, "SPX_H1.json"),
	}, paths)

	got, err := ReadTables(dir, "SPX")
	require.NoError(t, err)
	require.Len(t, got, 2)
	// sorted by file name
	assert.Equal(t, "H1", got[0].Timeframe)
	assert.Empty(t, got[0].Table)
	assert.Equal(t, tables[0], got[1])
}

func TestReadTablesMissingDir(t *testing.T) {
	got, err := ReadTables(filepath.Join(t.TempDir(), "absent"), "SPX")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadTablesFiltersByAsset(t *testing.T) {
	dir := t.TempDir()
	_, err := WriteTables(dir, "SPX", []TimeframeTable{{Timeframe: "H1", Table: Table{"ADX": {Min: 1, Max: 2, Step: 1}}}})
	require.NoError(t, err)
	_, err = WriteTables(dir, "NDX", []TimeframeTable{{Timeframe: "H1", Table: Table{"ADX": {Min: 3, Max: 4, Step: 1}}}})
	require.NoError(t, err)
	_, err = WriteTables(dir, "SPX_FUT", []TimeframeTable{{Timeframe: "M5", Table: Table{}}})
	require.NoError(t, err)

	got, err := ReadTables(dir, "SPX")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "H1", got[0].Timeframe)
	assert.Equal(t, Triple{Min: 1, Max: 2, Step: 1}, got[0].Table["ADX"])

	all, err := ReadTables(dir, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestReadTableRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SPX_H1.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ADX": [1, 2]}`), 0o644))
	_, err := ReadTable(path)
	assert.Error(t, err)
}

func TestTimeframeFromFile(t *testing.T) {
	assert.Equal(t, "H1", TimeframeFromFile("/x/SPX_H1.json"))
	assert.Equal(t, "M15", TimeframeFromFile("US_500_M15.json"))
	assert.Equal(t, "plain", TimeframeFromFile("plain.json"))
}
