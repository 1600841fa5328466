package solver

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// LoadImages reads image files for Run. The content type comes from the
// file extension, falling back to content sniffing.
func LoadImages(paths []string) ([]Image, error) {
	images := make([]Image, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", p, err)
		}
		ct := DetectContentType(p, data)
		if !strings.HasPrefix(ct, "image/") {
			return nil, fmt.Errorf("%s is not an image (%s)", p, ct)
		}
		images = append(images, Image{
			Filename:    filepath.Base(p),
			ContentType: ct,
			Data:        data,
		})
	}
	return images, nil
}

// DetectContentType guesses a MIME type for an uploaded file
func DetectContentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}
