// Package catalog lists indicator names from the two sources being
// reconciled: the MT5 indicator folder and the SQX BlockSettings archive.
package catalog

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"calibrator/internal/logger"
	"calibrator/internal/reconcile"
	"calibrator/internal/sqx"
)

// DefaultIndicatorExt is the extension of compiled MT5 indicators.
const DefaultIndicatorExt = ".ex5"

var log = logger.Named("catalog")

// ReadMT5 walks dir recursively and returns the names of files ending in ext,
// cut at the first dot. A missing directory yields no names. The order follows
// the directory walk and carries no meaning.
func ReadMT5(dir, ext string) ([]string, error) {
	if ext == "" {
		ext = DefaultIndicatorExt
	}
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warnf("indicator folder %s does not exist", dir)
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		log.Warnf("indicator path %s is not a directory", dir)
		return []string{}, nil
	}
	out := []string{}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warnf("skipping %s: %v", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ext) {
			return nil
		}
		name, _, _ := strings.Cut(d.Name(), ".")
		out = append(out, name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadSQX returns the external names of every Indicators.* block in the
// archive document, sorted and de-duplicated. With onlyUsed set, blocks not
// flagged on are skipped.
func ReadSQX(archivePath, docPath string, onlyUsed bool) ([]string, error) {
	raw, err := sqx.ReadDocument(archivePath, docPath)
	if err != nil {
		return nil, err
	}
	doc, err := sqx.ParseDocument(raw, sqx.DefaultAttributes())
	if err != nil {
		return nil, err
	}
	var names []string
	for _, b := range doc.Blocks() {
		if b.Namespace != sqx.IndicatorNamespace {
			continue
		}
		if onlyUsed && !b.Enabled() {
			continue
		}
		names = append(names, b.Name)
	}
	return reconcile.SortedUnique(names), nil
}
