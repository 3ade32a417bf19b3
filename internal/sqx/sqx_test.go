package sqx

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"calibrator/internal/ranges"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDocument = `<?xml version="1.0" encoding="UTF-8"?>
<Settings>
  <Blocks>
    <Block key="Indicators.ADX" use="false" indicatorMin="1" indicatorMax="2" indicatorStep="1"/>
    <Block key="Indicators.WilliamsPR" use="true"/>
    <Block key="Indicators.ObscureIndicator" enabled="yes" indicatorMin="3" indicatorMax="4" indicatorStep="1"/>
    <Block key="StopLimit.ATR" indicatorMin="1" indicatorMax="9" indicatorStep="0.5"/>
    <Block key="Signals.CrossAbove" use="true"/>
  </Blocks>
</Settings>
`

type zipEntry struct {
	name   string
	method uint16
	body   []byte
}

func writeZip(t *testing.T, path string, entries []zipEntry) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: e.method, Comment: "c-" + e.name}
		hdr.Modified = time.Date(2021, 3, 4, 5, 6, 8, 0, time.UTC)
		w, err := zw.CreateHeader(hdr)
		require.NoError(t, err)
		if e.body != nil {
			_, err = w.Write(e.body)
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func newTemplate(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Strategy.sqb")
	writeZip(t, path, []zipEntry{
		{name: "meta/", method: zip.Store},
		{name: "meta/info.txt", method: zip.Deflate, body: bytes.Repeat([]byte("strategy info "), 50)},
		{name: DefaultDocumentPath, method: zip.Deflate, body: []byte(testDocument)},
		{name: "raw.bin", method: zip.Store, body: []byte{0, 1, 2, 3, 255}},
	})
	return path
}

func rawEntries(t *testing.T, path string) map[string][]byte {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	out := make(map[string][]byte)
	for _, f := range r.File {
		rc, err := f.OpenRaw()
		require.NoError(t, err)
		raw, err := io.ReadAll(rc)
		require.NoError(t, err)
		out[f.Name] = raw
	}
	return out
}

func blocksByName(t *testing.T, archive string) map[string]Block {
	t.Helper()
	raw, err := ReadDocument(archive, "")
	require.NoError(t, err)
	doc, err := ParseDocument(raw, DefaultAttributes())
	require.NoError(t, err)
	out := make(map[string]Block)
	for _, b := range doc.Blocks() {
		out[b.Name] = b
	}
	return out
}

func TestParseBlocks(t *testing.T) {
	doc, err := ParseDocument([]byte(testDocument), Attributes{})
	require.NoError(t, err)
	blocks := doc.Blocks()
	require.Len(t, blocks, 5)

	adx := blocks[0]
	assert.Equal(t, "Indicators.ADX", adx.Key)
	assert.Equal(t, IndicatorNamespace, adx.Namespace)
	assert.Equal(t, "ADX", adx.Name)
	require.NotNil(t, adx.Flag)
	assert.False(t, adx.Enabled())
	assert.Equal(t, &ranges.Triple{Min: 1, Max: 2, Step: 1}, adx.Range)

	assert.Nil(t, blocks[1].Range)
	assert.True(t, blocks[1].Enabled())
	assert.True(t, blocks[2].Enabled(), "enabled=yes counts as on")
	assert.Nil(t, blocks[3].Flag)
	assert.Equal(t, "StopLimit", blocks[3].Category)
	assert.Equal(t, 4, blocks[4].Index)
}

func TestParseDocumentRejectsGarbage(t *testing.T) {
	_, err := ParseDocument([]byte("<Blocks><Block"), DefaultAttributes())
	assert.Error(t, err)
	_, err = ParseDocument([]byte(""), DefaultAttributes())
	assert.Error(t, err)
}

func TestBuildPlan(t *testing.T) {
	doc, err := ParseDocument([]byte(testDocument), DefaultAttributes())
	require.NoError(t, err)
	src := ranges.Table{
		"ADX":        {Min: 5, Max: 50, Step: 1},
		"ATR":        {Min: 0.5, Max: 3, Step: 0.25},
		"CrossAbove": {Min: 1, Max: 2, Step: 1},
	}

	plan := BuildPlan(doc.Blocks(), src, DefaultPlanOptions())
	require.Len(t, plan.Patches, 2)
	assert.Equal(t, "ADX", plan.Patches[0].Name)
	assert.False(t, plan.Patches[0].Enabled)
	assert.Equal(t, "ATR", plan.Patches[1].Name)
	assert.Equal(t, []string{"WilliamsPR", "ObscureIndicator"}, plan.Unmatched)
	assert.Empty(t, plan.Disabled)

	opts := DefaultPlanOptions()
	opts.SkipDisabled = true
	plan = BuildPlan(doc.Blocks(), src, opts)
	assert.Equal(t, []string{"ADX"}, plan.Disabled)
	require.Len(t, plan.Patches, 1)
	assert.Equal(t, "ATR", plan.Patches[0].Name, "blocks without a flag are not disabled")
}

func TestPatchRewritesRangesRegardlessOfFlag(t *testing.T) {
	tplPath := newTemplate(t)
	p := NewPatcher(DefaultOptions())
	tpl, err := p.Load(tplPath, "")
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "out", OutputName(tpl.Archive.Stem(), "SPX", "H1", ""))
	res, err := p.Patch(tpl, ranges.Table{"ADX": {Min: 5, Max: 50, Step: 1}}, out)
	require.NoError(t, err)
	assert.Equal(t, out, res.Output)
	assert.Equal(t, []string{"ADX"}, res.Patched)
	assert.Equal(t, []string{"WilliamsPR", "ObscureIndicator"}, res.Unmatched)
	assert.Equal(t, "Strategy_SPX_H1.sqb", filepath.Base(out))

	raw, err := ReadDocument(out, "")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `key="Indicators.ADX" use="false" indicatorMin="5.0" indicatorMax="50.0" indicatorStep="1.0"`)

	blocks := blocksByName(t, out)
	assert.Equal(t, &ranges.Triple{Min: 3, Max: 4, Step: 1}, blocks["ObscureIndicator"].Range)
	assert.Equal(t, &ranges.Triple{Min: 1, Max: 9, Step: 0.5}, blocks["ATR"].Range)
}

func TestPatchAddsMissingAttributes(t *testing.T) {
	tplPath := newTemplate(t)
	p := NewPatcher(DefaultOptions())
	tpl, err := p.Load(tplPath, "")
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "wpr.sqb")
	_, err = p.Patch(tpl, ranges.Table{"WilliamsPR": {Min: -100, Max: 0, Step: 0.00001}}, out)
	require.NoError(t, err)

	raw, err := ReadDocument(out, "")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `indicatorMin="-100.0" indicatorMax="0.0" indicatorStep="1e-05"`)
}

func TestPatchKeepsOtherEntriesByteIdentical(t *testing.T) {
	tplPath := newTemplate(t)
	p := NewPatcher(DefaultOptions())
	tpl, err := p.Load(tplPath, "")
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "copy.sqb")
	_, err = p.Patch(tpl, ranges.Table{"ADX": {Min: 5, Max: 50, Step: 1}}, out)
	require.NoError(t, err)

	before := rawEntries(t, tplPath)
	after := rawEntries(t, out)
	require.Len(t, after, len(before))
	for name, raw := range before {
		if name == DefaultDocumentPath {
			continue
		}
		assert.Equal(t, raw, after[name], name)
	}

	r, err := zip.OpenReader(out)
	require.NoError(t, err)
	defer r.Close()
	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
		assert.Equal(t, "c-"+f.Name, f.Comment)
	}
	assert.Equal(t, []string{"meta/", "meta/info.txt", DefaultDocumentPath, "raw.bin"}, names)
}

func TestPatchKeepsWhitespaceReferencesInAttributes(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<Settings>
  <Blocks>
    <Block key="Indicators.ADX" indicatorMin="1" indicatorMax="2" indicatorStep="1"/>
    <Block key="Indicators.Note" note="a&#10;b&#9;c"/>
  </Blocks>
</Settings>
`
	tplPath := filepath.Join(t.TempDir(), "Notes.sqb")
	writeZip(t, tplPath, []zipEntry{{name: DefaultDocumentPath, method: zip.Deflate, body: []byte(doc)}})

	p := NewPatcher(DefaultOptions())
	tpl, err := p.Load(tplPath, "")
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "notes.sqb")
	_, err = p.Patch(tpl, ranges.Table{"ADX": {Min: 5, Max: 50, Step: 1}}, out)
	require.NoError(t, err)

	raw, err := ReadDocument(out, "")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `note="a&#xA;b&#x9;c"`)
	assert.Contains(t, string(raw), `indicatorMin="5.0" indicatorMax="50.0" indicatorStep="1.0"`)

	tree := etree.NewDocument()
	require.NoError(t, tree.ReadFromBytes(raw))
	note := tree.FindElement("//Block[@key='Indicators.Note']")
	require.NotNil(t, note)
	assert.Equal(t, "a\nb\tc", note.SelectAttrValue("note", ""))
}

func TestPatchWithoutMatchesKeepsDocument(t *testing.T) {
	tplPath := newTemplate(t)
	p := NewPatcher(DefaultOptions())
	tpl, err := p.Load(tplPath, "")
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "same.sqb")
	res, err := p.Patch(tpl, ranges.Table{"Unknown": {Min: 1, Max: 2, Step: 1}}, out)
	require.NoError(t, err)
	assert.Empty(t, res.Patched)

	raw, err := ReadDocument(out, "")
	require.NoError(t, err)
	assert.Equal(t, testDocument, string(raw))
}

func TestPatchLeavesTemplateUntouched(t *testing.T) {
	tplPath := newTemplate(t)
	p := NewPatcher(DefaultOptions())
	tpl, err := p.Load(tplPath, "")
	require.NoError(t, err)

	_, err = p.Patch(tpl, ranges.Table{"ADX": {Min: 5, Max: 50, Step: 1}}, filepath.Join(t.TempDir(), "a.sqb"))
	require.NoError(t, err)
	assert.Equal(t, testDocument, string(tpl.Archive.Document))
	assert.Equal(t, &ranges.Triple{Min: 1, Max: 2, Step: 1}, tpl.Doc.Blocks()[0].Range)
}

func TestMissingDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.sqb")
	writeZip(t, path, []zipEntry{{name: "other.xml", method: zip.Deflate, body: []byte("<x/>")}})

	_, err := ReadArchive(path, "")
	var notFound *DocumentNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, DefaultDocumentPath, notFound.Document)
	assert.True(t, errors.Is(err, ErrMissingDocument))

	_, err = ReadDocument(path, "")
	assert.ErrorIs(t, err, ErrMissingDocument)
	assert.Contains(t, err.Error(), "'config.xml' not found")
}

func TestReadArchiveNotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.sqb")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))
	_, err := ReadArchive(path, "")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrMissingDocument))
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "Strategy_SPX_H1.sqb", OutputName("Strategy", "SPX", "H1", ""))
	assert.Equal(t, "Strategy_SPX_H1.sqx", OutputName("Strategy", "SPX", "H1", ".sqx"))
	assert.Equal(t, "My.Strategy", TemplateStem("/tmp/My.Strategy.sqb"))
}
