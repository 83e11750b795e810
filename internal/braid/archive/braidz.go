package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/braid-data/braid/internal/braid"
)

// braidzHeader is the plain-text line preceding the zip stream in a
// .braidz file. Zip readers locate the central directory from the end
// of the file, so the prefix is harmless to them and lets file(1) and
// humans identify the format.
const braidzHeader = "BRAIDZ file. This is a standard ZIP file with a particular structure.\n"

// WriteBraidz packs a finished session directory into a .braidz file.
// Entries are stored uncompressed (the sqlite payload compresses
// poorly and readers seek into it) with the README first.
func WriteBraidz(sessionDir, outPath string) error {
	entries, err := os.ReadDir(sessionDir)
	if err != nil {
		return fmt.Errorf("archive: read session dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		// WAL sidecars are merged into the database on close.
		if strings.HasSuffix(e.Name(), "-wal") || strings.HasSuffix(e.Name(), "-shm") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Slice(names, func(i, j int) bool {
		if (names[i] == braid.ReadmeName) != (names[j] == braid.ReadmeName) {
			return names[i] == braid.ReadmeName
		}
		return names[i] < names[j]
	})

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("archive: create braidz: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(braidzHeader); err != nil {
		return fmt.Errorf("archive: write braidz header: %w", err)
	}

	zw := zip.NewWriter(f)
	zw.SetOffset(int64(len(braidzHeader)))
	for _, name := range names {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		if err != nil {
			return fmt.Errorf("archive: braidz entry %q: %w", name, err)
		}
		src, err := os.Open(filepath.Join(sessionDir, name))
		if err != nil {
			return fmt.Errorf("archive: braidz entry %q: %w", name, err)
		}
		_, err = io.Copy(w, src)
		src.Close()
		if err != nil {
			return fmt.Errorf("archive: braidz entry %q: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("archive: finish braidz: %w", err)
	}
	return f.Sync()
}

// OpenBraidz opens a .braidz file for reading. Close the returned
// closer when done with the reader.
func OpenBraidz(path string) (*zip.Reader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("archive: open braidz: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("archive: stat braidz: %w", err)
	}
	zr, err := zip.NewReader(f, st.Size())
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("archive: read braidz: %w", err)
	}
	return zr, f, nil
}

// ExtractBraidz unpacks every archive entry into destDir, which must
// already exist.
func ExtractBraidz(path, destDir string) error {
	zr, closer, err := OpenBraidz(path)
	if err != nil {
		return err
	}
	defer closer.Close()
	for _, entry := range zr.File {
		name := filepath.Base(entry.Name)
		src, err := entry.Open()
		if err != nil {
			return fmt.Errorf("archive: extract %q: %w", entry.Name, err)
		}
		dst, err := os.Create(filepath.Join(destDir, name))
		if err != nil {
			src.Close()
			return fmt.Errorf("archive: extract %q: %w", entry.Name, err)
		}
		_, err = io.Copy(dst, src)
		src.Close()
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("archive: extract %q: %w", entry.Name, err)
		}
	}
	return nil
}
