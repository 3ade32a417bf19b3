package calibrate

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"calibrator/internal/batch"
	"calibrator/internal/config"
	"calibrator/internal/ranges"
	"calibrator/internal/reconcile"
	"calibrator/internal/sqx"
	"calibrator/internal/store"
	"calibrator/internal/store/model"
	"calibrator/internal/store/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const templateXML = `<?xml version="1.0" encoding="UTF-8"?>
<Settings>
  <Blocks>
    <Block key="Indicators.ADX" use="true" indicatorMin="1" indicatorMax="2" indicatorStep="1"/>
    <Block key="Indicators.WilliamsPR" use="false"/>
    <Block key="Indicators.ObscureIndicator" use="true" indicatorMin="3" indicatorMax="4" indicatorStep="1"/>
  </Blocks>
</Settings>
`

const calibrationJSON = `{
  "timeframes": [
    {"tf": "H1", "datos": [
      {"indicador": "SqAdx", "minimo": 5, "maximo": 40, "paso": 1},
      {"indicador": "SqAdx", "minimo": 7, "maximo": 50, "paso": 2},
      {"indicador": "SqWpr", "minimo": -80, "maximo": -20, "paso": 5}
    ]},
    {"tf": "H4", "datos": [
      {"indicador": "SqAdx", "minimo": 10, "maximo": 30, "paso": 0.5}
    ]}
  ]
}`

type fixture struct {
	dir string
	req Request
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	mt5 := filepath.Join(dir, "mt5")
	require.NoError(t, os.MkdirAll(mt5, 0o755))
	for _, name := range []string{"SqAdx.ex5", "SqWpr.ex5", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(mt5, name), []byte("bin"), 0o644))
	}

	tpl := filepath.Join(dir, "Template.sqb")
	f, err := os.Create(tpl)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("config.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(templateXML))
	require.NoError(t, err)
	w, err = zw.Create("meta/info.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("template meta"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	calib := filepath.Join(dir, "valores.json")
	require.NoError(t, os.WriteFile(calib, []byte(calibrationJSON), 0o644))

	return fixture{
		dir: dir,
		req: Request{
			Asset:           "NDX",
			IndicatorsDir:   mt5,
			BlockSettings:   tpl,
			MappingFile:     filepath.Join(dir, "mapping.json"),
			CalibrationFile: calib,
			RangesDir:       filepath.Join(dir, "ranges"),
			OutputDir:       filepath.Join(dir, "out"),
			Mode:            config.ModeTables,
		},
	}
}

func newTestService(t *testing.T, ledger *store.Ledger) *Service {
	t.Helper()
	return NewFromConfig(config.Default(), nil, ledger)
}

func blockAttrs(t *testing.T, archive string) map[string]sqx.Block {
	t.Helper()
	raw, err := sqx.ReadDocument(archive, "config.xml")
	require.NoError(t, err)
	doc, err := sqx.ParseDocument(raw, sqx.DefaultAttributes())
	require.NoError(t, err)
	out := make(map[string]sqx.Block)
	for _, b := range doc.Blocks() {
		out[b.Name] = b
	}
	return out
}

func TestRunTablesModeEndToEnd(t *testing.T) {
	fx := newFixture(t)
	st, err := sqlite.NewSqliteStore(filepath.Join(fx.dir, "runs.db"))
	require.NoError(t, err)
	ledger := store.NewLedger(st)
	defer ledger.Close()

	res, err := newTestService(t, ledger).Run(context.Background(), fx.req)
	require.NoError(t, err)
	require.NotNil(t, res.Report)

	assert.True(t, res.MappingGenerated)
	assert.Equal(t, []string{"ObscureIndicator"}, res.Unresolved)
	internal, ok := res.Mapping.Lookup("ADX")
	require.True(t, ok)
	assert.Equal(t, "SqAdx", internal)
	internal, ok = res.Mapping.Lookup("WilliamsPR")
	require.True(t, ok)
	assert.Equal(t, "SqWpr", internal)

	require.Len(t, res.RangeFiles, 2)
	h1, err := ranges.ReadTable(filepath.Join(fx.req.RangesDir, "NDX_H1.json"))
	require.NoError(t, err)
	assert.Equal(t, ranges.Triple{Min: 5, Max: 50, Step: 1}, h1["ADX"])
	assert.Equal(t, ranges.Triple{Min: -80, Max: -20, Step: 5}, h1["WilliamsPR"])

	outputs := res.Report.Outputs()
	require.Len(t, outputs, 2)
	assert.Equal(t, filepath.Join(fx.req.OutputDir, "Template_NDX_H1.sqb"), outputs[0])
	assert.Equal(t, filepath.Join(fx.req.OutputDir, "Template_NDX_H4.sqb"), outputs[1])

	blocks := blockAttrs(t, outputs[0])
	assert.Equal(t, &ranges.Triple{Min: 5, Max: 50, Step: 1}, blocks["ADX"].Range)
	// 未启用的 Block 同样写入区间
	assert.Equal(t, &ranges.Triple{Min: -80, Max: -20, Step: 5}, blocks["WilliamsPR"].Range)
	assert.Equal(t, &ranges.Triple{Min: 3, Max: 4, Step: 1}, blocks["ObscureIndicator"].Range)

	blocks = blockAttrs(t, outputs[1])
	assert.Equal(t, &ranges.Triple{Min: 10, Max: 30, Step: 0.5}, blocks["ADX"].Range)
	assert.Nil(t, blocks["WilliamsPR"].Range)

	detail, err := ledger.Get(context.Background(), res.RunID)
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, model.RunStatusOK, detail.Run.Status)
	assert.Equal(t, 2, detail.Run.Outputs)
	assert.Equal(t, 3, detail.Run.MappingTotal)
	assert.Equal(t, 1, detail.Run.MappingMissing)
	assert.Len(t, detail.Outcomes, 2)
}

func TestRunDirectModeMatchesTablesMode(t *testing.T) {
	fx := newFixture(t)
	svc := newTestService(t, nil)
	fx.req.Mode = config.ModeDirect

	res, err := svc.Run(context.Background(), fx.req)
	require.NoError(t, err)
	assert.Empty(t, res.RangeFiles)
	_, err = os.Stat(fx.req.RangesDir)
	assert.True(t, os.IsNotExist(err))

	outputs := res.Report.Outputs()
	require.Len(t, outputs, 2)
	blocks := blockAttrs(t, outputs[0])
	assert.Equal(t, &ranges.Triple{Min: 5, Max: 50, Step: 1}, blocks["ADX"].Range)
}

func TestRunReusesExistingMapping(t *testing.T) {
	fx := newFixture(t)
	mapping := reconcile.MappingTable{
		{External: "ADX", Internal: "SqWpr", Resolved: true},
		{External: "WilliamsPR"},
		{External: "ObscureIndicator"},
	}
	require.NoError(t, reconcile.SaveMapping(fx.req.MappingFile, mapping))

	res, err := newTestService(t, nil).Run(context.Background(), fx.req)
	require.NoError(t, err)
	assert.False(t, res.MappingGenerated)

	blocks := blockAttrs(t, res.Report.Outputs()[0])
	assert.Equal(t, &ranges.Triple{Min: -80, Max: -20, Step: 5}, blocks["ADX"].Range)
	assert.Nil(t, blocks["WilliamsPR"].Range)
}

func TestRunMissingInputs(t *testing.T) {
	fx := newFixture(t)
	svc := newTestService(t, nil)

	req := fx.req
	req.BlockSettings = filepath.Join(fx.dir, "absent.sqb")
	_, err := svc.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrMissingInput)

	req = fx.req
	req.CalibrationFile = ""
	_, err = svc.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestPatchWithoutRangesFails(t *testing.T) {
	fx := newFixture(t)
	_, err := newTestService(t, nil).Patch(context.Background(), fx.req)
	require.ErrorIs(t, err, batch.ErrNoRangeData)
	_, statErr := os.Stat(fx.req.OutputDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestBuildMappingUsesConfiguredAliases(t *testing.T) {
	fx := newFixture(t)
	cfg := config.Default()
	cfg.Reconcile.Aliases = map[string]string{"obscureindicator": "SqAdx"}
	svc := NewFromConfig(cfg, nil, nil)

	match, err := svc.BuildMapping(context.Background(), fx.req)
	require.NoError(t, err)
	assert.Empty(t, match.Unresolved())

	loaded, err := reconcile.LoadMapping(fx.req.MappingFile)
	require.NoError(t, err)
	internal, ok := loaded.Lookup("ObscureIndicator")
	require.True(t, ok)
	assert.Equal(t, "SqAdx", internal)
}

// mockStore 记录 Begin/Commit 调用，用于验证失败的运行也会被记录。
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Begin(ctx context.Context) (store.UnitOfWork, error) {
	args := m.Called(ctx)
	return args.Get(0).(store.UnitOfWork), args.Error(1)
}

func (m *mockStore) Close() error { return nil }

type mockUnit struct {
	mock.Mock
	runs *mockRuns
}

func (u *mockUnit) Commit() error { return u.Called().Error(0) }

func (u *mockUnit) Rollback() error { return u.Called().Error(0) }

func (u *mockUnit) Runs() store.RunRepository { return u.runs }

type mockRuns struct {
	mock.Mock
}

func (r *mockRuns) Save(ctx context.Context, run *model.RunModel) error {
	return r.Called(ctx, run).Error(0)
}

func (r *mockRuns) SaveOutcomes(ctx context.Context, runID string, outcomes []model.TimeframeOutcomeModel) error {
	return r.Called(ctx, runID, outcomes).Error(0)
}

func (r *mockRuns) FindByID(context.Context, string) (*model.RunModel, error) { return nil, nil }

func (r *mockRuns) ListRecent(context.Context, int) ([]model.RunModel, error) { return nil, nil }

func (r *mockRuns) ListOutcomes(context.Context, string) ([]model.TimeframeOutcomeModel, error) {
	return nil, nil
}

func TestFailedRunIsRecorded(t *testing.T) {
	fx := newFixture(t)
	runs := new(mockRuns)
	unit := &mockUnit{runs: runs}
	st := new(mockStore)

	st.On("Begin", mock.Anything).Return(unit, nil).Once()
	runs.On("Save", mock.Anything, mock.MatchedBy(func(run *model.RunModel) bool {
		return run.Status == model.RunStatusFailed && strings.Contains(run.Message, "missing input")
	})).Return(nil).Once()
	runs.On("SaveOutcomes", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	unit.On("Commit").Return(nil).Once()

	req := fx.req
	req.CalibrationFile = filepath.Join(fx.dir, "absent.json")
	_, err := newTestService(t, store.NewLedger(st)).Run(context.Background(), req)
	require.ErrorIs(t, err, ErrMissingInput)

	st.AssertExpectations(t)
	runs.AssertExpectations(t)
	unit.AssertExpectations(t)
}
