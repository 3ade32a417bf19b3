// Package sqx reads and rewrites strategy BlockSettings archives: a zip
// container holding one XML document of Block elements.
package sqx

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
)

// DefaultDocumentPath is where the Block document lives inside the archive.
const DefaultDocumentPath = "config.xml"

// ErrMissingDocument is matched by every DocumentNotFoundError.
var ErrMissingDocument = errors.New("document not found in archive")

// DocumentNotFoundError reports an archive without the expected document.
type DocumentNotFoundError struct {
	Archive  string
	Document string
}

func (e *DocumentNotFoundError) Error() string {
	return fmt.Sprintf("'%s' not found in %s", e.Document, e.Archive)
}

func (e *DocumentNotFoundError) Unwrap() error {
	return ErrMissingDocument
}

// Entry is one archive member kept in its stored (compressed) form.
type Entry struct {
	Header zip.FileHeader
	Raw    []byte
}

// Archive is a fully loaded template. It is never modified after ReadArchive
// returns, so one instance can feed any number of concurrent patches.
type Archive struct {
	Path         string
	DocumentPath string
	Entries      []Entry
	// Document is the decompressed content of DocumentPath.
	Document []byte
	docIndex int
}

// Stem is the template file name without extension.
func (a *Archive) Stem() string {
	return TemplateStem(a.Path)
}

// ReadArchive loads every entry of the zip at path. The file is closed before
// returning.
func ReadArchive(path, docPath string) (*Archive, error) {
	if docPath == "" {
		docPath = DefaultDocumentPath
	}
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	defer r.Close()

	a := &Archive{Path: path, DocumentPath: docPath, docIndex: -1}
	for _, f := range r.File {
		raw, err := readRaw(f)
		if err != nil {
			return nil, fmt.Errorf("read %s from %s: %w", f.Name, path, err)
		}
		if f.Name == docPath && a.docIndex < 0 {
			doc, err := readFile(f)
			if err != nil {
				return nil, fmt.Errorf("read %s from %s: %w", f.Name, path, err)
			}
			a.Document = doc
			a.docIndex = len(a.Entries)
		}
		a.Entries = append(a.Entries, Entry{Header: f.FileHeader, Raw: raw})
	}
	if a.docIndex < 0 {
		return nil, &DocumentNotFoundError{Archive: path, Document: docPath}
	}
	return a, nil
}

// ReadDocument returns only the decompressed document of the archive.
func ReadDocument(path, docPath string) ([]byte, error) {
	if docPath == "" {
		docPath = DefaultDocumentPath
	}
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	defer r.Close()
	for _, f := range r.File {
		if f.Name == docPath {
			return readFile(f)
		}
	}
	return nil, &DocumentNotFoundError{Archive: path, Document: docPath}
}

func readRaw(f *zip.File) ([]byte, error) {
	rc, err := f.OpenRaw()
	if err != nil {
		return nil, err
	}
	return io.ReadAll(rc)
}

func readFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// WriteArchive writes a copy of a to path with doc in place of the document.
// Every other entry keeps its header and stored bytes. The file is written
// next to path and renamed into place.
func WriteArchive(path string, a *Archive, doc []byte) (err error) {
	if a == nil {
		return fmt.Errorf("nil archive")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	zw := zip.NewWriter(tmp)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})
	for i := range a.Entries {
		entry := a.Entries[i]
		hdr := entry.Header
		if i == a.docIndex {
			hdr.CRC32 = 0
			hdr.CompressedSize64 = 0
			hdr.UncompressedSize64 = 0
			w, err := zw.CreateHeader(&hdr)
			if err != nil {
				return fmt.Errorf("write %s: %w", hdr.Name, err)
			}
			if _, err := w.Write(doc); err != nil {
				return fmt.Errorf("write %s: %w", hdr.Name, err)
			}
			continue
		}
		w, err := zw.CreateRaw(&hdr)
		if err != nil {
			return fmt.Errorf("copy %s: %w", hdr.Name, err)
		}
		if _, err := w.Write(entry.Raw); err != nil {
			return fmt.Errorf("copy %s: %w", hdr.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// TemplateStem is the base name of path without its extension.
func TemplateStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// OutputName builds {stem}_{asset}_{timeframe}.{ext}.
func OutputName(stem, asset, timeframe, ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = DefaultExtension
	}
	return fmt.Sprintf("%s_%s_%s.%s", stem, asset, timeframe, ext)
}

// DefaultExtension is used for patched archives when none is configured.
const DefaultExtension = "sqb"
