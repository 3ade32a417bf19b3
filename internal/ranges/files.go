package ranges

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// TableFileName is the on-disk name of a range table: {asset}_{timeframe}.json.
func TableFileName(asset, timeframe string) string {
	return fmt.Sprintf("%s_%s.json", asset, timeframe)
}

// TimeframeFromFile recovers the timeframe from a range table file name; it is
// the part after the last underscore of the stem.
func TimeframeFromFile(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if i := strings.LastIndex(stem, "_"); i >= 0 {
		return stem[i+1:]
	}
	return stem
}

// MarshalTable renders a table with sorted keys and two-space indentation.
func MarshalTable(t Table) ([]byte, error) {
	if t == nil {
		t = Table{}
	}
	return json.MarshalIndent(t, "", "  ")
}

// WriteTables writes one file per timeframe into dir and returns the paths in
// the order of tables. Existing files with the same name are overwritten.
func WriteTables(dir, asset string, tables []TimeframeTable) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(tables))
	for _, tt := range tables {
		raw, err := MarshalTable(tt.Table)
		if err != nil {
			return paths, fmt.Errorf("encode ranges for %s: %w", tt.Timeframe, err)
		}
		path := filepath.Join(dir, TableFileName(asset, tt.Timeframe))
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			return paths, fmt.Errorf("write ranges for %s: %w", tt.Timeframe, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// ReadTable loads a single range table file.
func ReadTable(path string) (Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var t Table
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse range table %s: %w", filepath.Base(path), err)
	}
	if t == nil {
		t = Table{}
	}
	return t, nil
}

// ReadTables loads the {asset}_{timeframe}.json tables in dir sorted by file
// name. Files belonging to other assets are skipped; an empty asset loads
// every *.json table. A missing directory yields no tables.
func ReadTables(dir, asset string) ([]TimeframeTable, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	out := make([]TimeframeTable, 0, len(files))
	for _, f := range files {
		tf := TimeframeFromFile(f)
		if asset != "" {
			stem := strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
			rest, ok := strings.CutPrefix(stem, asset+"_")
			if !ok || rest == "" || strings.Contains(rest, "_") {
				continue
			}
			tf = rest
		}
		t, err := ReadTable(f)
		if err != nil {
			return nil, err
		}
		out = append(out, TimeframeTable{Timeframe: tf, Table: t})
	}
	return out, nil
}
