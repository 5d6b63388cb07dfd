package source

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
)

// zipMemberPriority is the search order spec §6/§9 names: "$MFT.gz", "$MFT", or "mft.gz" in that priority; the
// first member matching wins and any other match is ignored silently.
var zipMemberPriority = []string{"$MFT.gz", "$MFT", "mft.gz"}

// OpenZipMember opens the ZIP archive at zipPath, selects the highest-priority member from zipMemberPriority
// present in it, and returns its decompressed (if named "*.gz") or raw contents. No third-party pack repo parses
// ZIP containers; archive/zip is the standard library's own implementation and is used here directly, same as a
// Go program reaching for any stdlib-covered concern the pack doesn't otherwise address (see DESIGN.md).
func OpenZipMember(zipPath string) ([]byte, string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, "", fmt.Errorf("source: unable to open zip %s: %w", zipPath, err)
	}
	defer r.Close()

	byName := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		byName[f.Name] = f
	}

	for _, candidate := range zipMemberPriority {
		f, ok := byName[candidate]
		if !ok {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, "", fmt.Errorf("source: unable to open zip member %s: %w", candidate, err)
		}
		defer rc.Close()

		data, err := readAllFrom(rc, candidate)
		if err != nil {
			return nil, "", err
		}
		if isGzipName(candidate) {
			decompressed, err := decompressGzipBytes(data, candidate)
			if err != nil {
				return nil, "", err
			}
			return decompressed, candidate, nil
		}
		return data, candidate, nil
	}
	return nil, "", fmt.Errorf("source: zip %s contains none of %v", zipPath, zipMemberPriority)
}

// OpenGzip stream-decompresses the GZIP file at path into memory, for a bare $MFT.gz not wrapped in a ZIP.
func OpenGzip(path string) ([]byte, error) {
	return decompressGzipPath(path)
}

func isGzipName(name string) bool {
	return len(name) > 3 && name[len(name)-3:] == ".gz"
}

func readAllFrom(r io.Reader, name string) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("source: unable to read zip member %s: %w", name, err)
	}
	return data, nil
}

func decompressGzipBytes(data []byte, name string) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("source: %s is not valid gzip: %w", name, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("source: unable to decompress %s: %w", name, err)
	}
	return out, nil
}

func decompressGzipPath(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: unable to open %s: %w", path, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("source: %s is not valid gzip: %w", path, err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("source: unable to decompress %s: %w", path, err)
	}
	return out, nil
}
