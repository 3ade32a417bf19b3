package sqx

import (
	"fmt"
	"strconv"
	"strings"

	"calibrator/internal/ranges"

	"github.com/beevik/etree"
)

// IndicatorNamespace prefixes the key of every indicator block.
const IndicatorNamespace = "Indicators"

var flagAttrs = []string{"use", "enabled", "selected"}

var trueValues = map[string]bool{"1": true, "true": true, "yes": true}

// Attributes names the three range attributes rewritten on a block.
type Attributes struct {
	Min  string
	Max  string
	Step string
}

func DefaultAttributes() Attributes {
	return Attributes{Min: "indicatorMin", Max: "indicatorMax", Step: "indicatorStep"}
}

func (a Attributes) orDefault() Attributes {
	def := DefaultAttributes()
	if strings.TrimSpace(a.Min) == "" {
		a.Min = def.Min
	}
	if strings.TrimSpace(a.Max) == "" {
		a.Max = def.Max
	}
	if strings.TrimSpace(a.Step) == "" {
		a.Step = def.Step
	}
	return a
}

// Block is the typed view of a <Block> element.
type Block struct {
	// Index is the element's position among all Block elements in document
	// order.
	Index     int
	Key       string
	Namespace string
	Category  string
	Name      string
	// Flag is nil when the element carries none of use/enabled/selected.
	Flag *bool
	// Range holds the existing min/max/step when all three parse as numbers.
	Range *ranges.Triple
}

// Enabled reports whether the block is flagged on.
func (b Block) Enabled() bool {
	return b.Flag != nil && *b.Flag
}

// Document is a parsed Block document. The tree is only read; Apply works on
// a copy.
type Document struct {
	tree  *etree.Document
	attrs Attributes
}

// ParseDocument parses raw XML.
func ParseDocument(raw []byte, attrs Attributes) (*Document, error) {
	tree := etree.NewDocument()
	if err := tree.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("parse block document: %w", err)
	}
	if tree.Root() == nil {
		return nil, fmt.Errorf("parse block document: no root element")
	}
	return &Document{tree: tree, attrs: attrs.orDefault()}, nil
}

func blockElements(tree *etree.Document) []*etree.Element {
	return tree.FindElements("//Block")
}

// Blocks returns every Block element as a typed record.
func (d *Document) Blocks() []Block {
	elems := blockElements(d.tree)
	out := make([]Block, 0, len(elems))
	for i, el := range elems {
		out = append(out, d.toBlock(i, el))
	}
	return out
}

func (d *Document) toBlock(idx int, el *etree.Element) Block {
	attrs := lowerAttrs(el)
	key := el.SelectAttrValue("key", "")
	b := Block{Index: idx, Key: key, Name: key}
	if ns, name, ok := strings.Cut(key, "."); ok {
		b.Namespace = ns
		b.Name = name
	}
	b.Category = strings.TrimSpace(attrs["category"])
	if b.Category == "" {
		b.Category = b.Namespace
	}
	for _, name := range flagAttrs {
		if v := attrs[name]; v != "" {
			on := trueValues[strings.ToLower(strings.TrimSpace(v))]
			b.Flag = &on
			break
		}
	}
	b.Range = existingRange(attrs, d.attrs)
	return b
}

func lowerAttrs(el *etree.Element) map[string]string {
	out := make(map[string]string, len(el.Attr))
	for _, a := range el.Attr {
		out[strings.ToLower(a.Key)] = a.Value
	}
	return out
}

func existingRange(attrs map[string]string, names Attributes) *ranges.Triple {
	var vals [3]float64
	for i, name := range []string{names.Min, names.Max, names.Step} {
		raw, ok := attrs[strings.ToLower(name)]
		if !ok {
			return nil
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil
		}
		vals[i] = v
	}
	return &ranges.Triple{Min: vals[0], Max: vals[1], Step: vals[2]}
}

// Apply returns the serialized document with patches applied to a copy of the
// tree. Blocks without a patch are written exactly as parsed.
func (d *Document) Apply(patches PatchList) ([]byte, error) {
	tree := d.tree.Copy()
	elems := blockElements(tree)
	for _, p := range patches {
		if p.BlockIndex < 0 || p.BlockIndex >= len(elems) {
			return nil, fmt.Errorf("patch for %s targets block #%d of %d", p.Name, p.BlockIndex, len(elems))
		}
		el := elems[p.BlockIndex]
		setAttr(el, d.attrs.Min, ranges.FormatFloat(p.Range.Min))
		setAttr(el, d.attrs.Max, ranges.FormatFloat(p.Range.Max))
		setAttr(el, d.attrs.Step, ranges.FormatFloat(p.Range.Step))
	}
	// keep tabs and newlines inside attribute values as character references
	tree.WriteSettings.CanonicalAttrVal = true
	return tree.WriteToBytes()
}

// setAttr overwrites name in place, matching an existing attribute
// case-insensitively, or appends it.
func setAttr(el *etree.Element, name, value string) {
	for i := range el.Attr {
		if el.Attr[i].Space == "" && strings.EqualFold(el.Attr[i].Key, name) {
			el.Attr[i].Value = value
			return
		}
	}
	el.CreateAttr(name, value)
}
