package ranges

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

//go:embed calibration.schema.json
var calibrationSchema []byte

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("calibration.schema.json", bytes.NewReader(calibrationSchema)); err != nil {
			schemaErr = err
			return
		}
		schemaCompiled, schemaErr = compiler.Compile("calibration.schema.json")
	})
	return schemaCompiled, schemaErr
}

// Validate checks raw against the calibration dataset schema.
func Validate(raw []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile calibration schema: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("calibration json invalid: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("calibration dataset does not match schema: %w", err)
	}
	return nil
}

// LoadDataset reads and parses a calibration file.
func LoadDataset(path string, validate bool) (Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("read calibration file: %w", err)
	}
	return ParseDataset(raw, validate)
}

// ParseDataset decodes a calibration document. The timeframe name comes from
// "tf", then "timeframe", then "name", and finally the 1-based position
// ("tf3"). Records are read from "datos", "records" or "data".
func ParseDataset(raw []byte, validate bool) (Dataset, error) {
	if validate {
		if err := Validate(raw); err != nil {
			return Dataset{}, err
		}
	}
	if !gjson.ValidBytes(raw) {
		return Dataset{}, fmt.Errorf("calibration json invalid")
	}
	tfs := gjson.GetBytes(raw, "timeframes")
	if !tfs.IsArray() {
		return Dataset{}, fmt.Errorf("calibration dataset requires a timeframes array")
	}
	var (
		ds      Dataset
		idx     int
		walkErr error
	)
	tfs.ForEach(func(_, node gjson.Result) bool {
		idx++
		tf, err := parseTimeframe(idx, node)
		if err != nil {
			walkErr = err
			return false
		}
		ds.Timeframes = append(ds.Timeframes, tf)
		return true
	})
	if walkErr != nil {
		return Dataset{}, walkErr
	}
	return ds, nil
}

func parseTimeframe(idx int, node gjson.Result) (TimeframeData, error) {
	name := firstString(node, "tf", "timeframe", "name")
	if name == "" {
		name = fmt.Sprintf("tf%d", idx)
	}
	tf := TimeframeData{Name: name}
	list := firstArray(node, "datos", "records", "data")
	if !list.Exists() {
		return tf, nil
	}
	var (
		pos int
		err error
	)
	list.ForEach(func(_, rec gjson.Result) bool {
		pos++
		var r Record
		r, err = parseRecord(rec)
		if err != nil {
			err = fmt.Errorf("timeframe %s record #%d: %w", name, pos, err)
			return false
		}
		tf.Records = append(tf.Records, r)
		return true
	})
	return tf, err
}

func parseRecord(rec gjson.Result) (Record, error) {
	ind := rec.Get("indicador")
	if !ind.Exists() || strings.TrimSpace(ind.String()) == "" {
		return Record{}, fmt.Errorf("missing indicador")
	}
	out := Record{Indicator: ind.String()}
	fields := []struct {
		key string
		dst *float64
	}{
		{"minimo", &out.Min},
		{"maximo", &out.Max},
		{"paso", &out.Step},
	}
	for _, f := range fields {
		v := rec.Get(f.key)
		if v.Type != gjson.Number {
			return Record{}, fmt.Errorf("%s must be a number", f.key)
		}
		*f.dst = v.Float()
	}
	return out, nil
}

func firstString(node gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := node.Get(k); v.Exists() {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstArray(node gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := node.Get(k); v.IsArray() {
			return v
		}
	}
	return gjson.Result{}
}
