// Package export bundles and stores generated images.
package export

import (
	"archive/zip"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/fpang/lynx-studio/internal/provider"
)

// zipMethodZstd is the ZIP compression method ID for Zstandard (APPNOTE 6.3.7).
const zipMethodZstd uint16 = 93

func init() {
	// Level 12 maps to SpeedBestCompression in klauspost/compress.
	zip.RegisterCompressor(zipMethodZstd, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(12)))
	})
	zip.RegisterDecompressor(zipMethodZstd, func(r io.Reader) io.ReadCloser {
		d, err := zstd.NewReader(r)
		if err != nil {
			return io.NopCloser(errReader{err})
		}
		return d.IOReadCloser()
	})
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

// File is one entry of a bundle.
type File struct {
	Name string
	Data []byte
}

var extensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// Extension returns the file extension for a MIME type, png when unknown.
func Extension(mimeType string) string {
	if ext, ok := extensions[strings.ToLower(mimeType)]; ok {
		return ext
	}
	return "png"
}

// FileName names the index-th (1-based) image of a result.
func FileName(prefix string, index int, mimeType string) string {
	if prefix == "" {
		prefix = "lynx"
	}
	return fmt.Sprintf("%s-%d.%s", prefix, index, Extension(mimeType))
}

// Files names a result's images in order.
func Files(prefix string, images []*provider.Image) []File {
	files := make([]File, 0, len(images))
	for i, img := range images {
		files = append(files, File{Name: FileName(prefix, i+1, img.MIMEType), Data: img.Data})
	}
	return files
}

// WriteZip writes files as a zstd-compressed ZIP. Duplicate names get a
// numeric suffix so every stored name is unique.
func WriteZip(w io.Writer, files []File, modTime time.Time) error {
	zw := zip.NewWriter(w)
	seen := make(map[string]int, len(files))

	for _, f := range files {
		name := uniqueName(f.Name, seen)
		header := &zip.FileHeader{
			Name:   name,
			Method: zipMethodZstd,
		}
		header.Modified = modTime

		entry, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("create ZIP entry for %s: %w", name, err)
		}
		if _, err := entry.Write(f.Data); err != nil {
			return fmt.Errorf("write to ZIP for %s: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("close ZIP writer: %w", err)
	}
	return nil
}

func uniqueName(name string, seen map[string]int) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	base, ext := name, ""
	if i := strings.LastIndex(name, "."); i > 0 {
		base, ext = name[:i], name[i:]
	}
	candidate := fmt.Sprintf("%s-%d%s", base, n+1, ext)
	if seen[candidate] > 0 {
		return uniqueName(candidate, seen)
	}
	seen[candidate] = 1
	return candidate
}
