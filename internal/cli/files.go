package cli

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/fpang/lynx-studio/internal/export"
	"github.com/fpang/lynx-studio/internal/payload"
	"github.com/fpang/lynx-studio/internal/provider"
)

var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// LoadImage reads an image file as a data URI.
func LoadImage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	mime, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]
	if !ok {
		mime = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("%s is not an image (%s)", path, mime)
	}
	return payload.EncodeDataURI(mime, data), nil
}

// SaveImages writes images into dir as prefix-1.ext, prefix-2.ext and so on.
func SaveImages(dir, prefix string, images []*provider.Image) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	paths := make([]string, 0, len(images))
	for i, img := range images {
		p := filepath.Join(dir, export.FileName(prefix, i+1, img.MIMEType))
		if err := os.WriteFile(p, img.Data, 0o644); err != nil {
			return paths, fmt.Errorf("write %s: %w", p, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// OutputPrefix derives an output file prefix from a source path.
func OutputPrefix(source, suffix string) string {
	base := filepath.Base(source)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "-" + suffix
}
