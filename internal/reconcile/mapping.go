package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
)

// MappingEntry pairs an external name with its internal counterpart.
// Internal is meaningful only when Resolved is true.
type MappingEntry struct {
	External string
	Internal string
	Resolved bool
}

// MappingTable is the ordered external -> internal table. Each external name
// appears once.
type MappingTable []MappingEntry

// Lookup returns the internal name for ext, if resolved.
func (t MappingTable) Lookup(ext string) (string, bool) {
	for _, e := range t {
		if e.External == ext {
			return e.Internal, e.Resolved
		}
	}
	return "", false
}

// Resolved returns the resolved entries as a map.
func (t MappingTable) Resolved() map[string]string {
	out := make(map[string]string, len(t))
	for _, e := range t {
		if e.Resolved {
			out[e.External] = e.Internal
		}
	}
	return out
}

// UnresolvedCount counts entries without an internal counterpart.
func (t MappingTable) UnresolvedCount() int {
	n := 0
	for _, e := range t {
		if !e.Resolved {
			n++
		}
	}
	return n
}

// MarshalJSON writes an object in table order; unresolved entries are null.
func (t MappingTable) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if len(t) == 0 {
		return []byte("{}"), nil
	}
	buf.WriteString("{\n")
	for i, e := range t {
		k, err := encodeString(e.External)
		if err != nil {
			return nil, err
		}
		v := []byte("null")
		if e.Resolved {
			if v, err = encodeString(e.Internal); err != nil {
				return nil, err
			}
		}
		buf.WriteString("  ")
		buf.Write(k)
		buf.WriteString(": ")
		buf.Write(v)
		if i < len(t)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the object keeping document order.
func (t *MappingTable) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("mapping json invalid")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return fmt.Errorf("mapping must be a json object")
	}
	out := MappingTable{}
	seen := make(map[string]int)
	var walkErr error
	root.ForEach(func(key, value gjson.Result) bool {
		entry := MappingEntry{External: key.String()}
		switch value.Type {
		case gjson.Null:
		case gjson.String:
			entry.Internal = value.String()
			entry.Resolved = entry.Internal != ""
		default:
			walkErr = fmt.Errorf("mapping value for %q must be a string or null", entry.External)
			return false
		}
		if pos, dup := seen[entry.External]; dup {
			out[pos] = entry
			return true
		}
		seen[entry.External] = len(out)
		out = append(out, entry)
		return true
	})
	if walkErr != nil {
		return walkErr
	}
	*t = out
	return nil
}

func encodeString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// SaveMapping persists the table at path, creating parent directories.
func SaveMapping(path string, t MappingTable) error {
	raw, err := t.MarshalJSON()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, raw, 0o644)
}

// LoadMapping reads a table written by SaveMapping (or by hand).
func LoadMapping(path string) (MappingTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var t MappingTable
	if err := t.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("load mapping %s: %w", filepath.Base(path), err)
	}
	return t, nil
}
