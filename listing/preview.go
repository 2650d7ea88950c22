package listing

import "strings"

// Preview names the viewer a file should be routed to.
type Preview string

const (
	PreviewDirectory Preview = "directory"
	PreviewImage     Preview = "image"
	PreviewText      Preview = "text"
	PreviewPDF       Preview = "pdf"
	PreviewAudio     Preview = "audio"
	PreviewVideo     Preview = "video"
	PreviewBinary    Preview = "binary"
)

var textTypes = map[string]bool{
	"application/json":       true,
	"application/xml":        true,
	"application/javascript": true,
	"application/x-sh":       true,
	"application/toml":       true,
	"application/yaml":       true,
}

// PreviewKind routes an item by its sniffed MIME type. Empty files are
// treated as text.
func PreviewKind(it Item) Preview {
	if it.IsDir() {
		return PreviewDirectory
	}
	if it.Size != nil && *it.Size == 0 {
		return PreviewText
	}
	t := strings.ToLower(it.Type)
	switch {
	case textTypes[t], strings.HasPrefix(t, "text/"):
		return PreviewText
	case strings.HasPrefix(t, "image/"):
		return PreviewImage
	case t == "application/pdf":
		return PreviewPDF
	case strings.HasPrefix(t, "audio/"):
		return PreviewAudio
	case strings.HasPrefix(t, "video/"):
		return PreviewVideo
	}
	return PreviewBinary
}
