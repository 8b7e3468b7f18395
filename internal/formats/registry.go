// Package formats holds the static conversion support table: which input
// extensions belong to which category, and which ordered backend chain
// serves each (category, input, output) pair.
//
// The tables are populated at init and read-only afterwards, so lookups
// are safe for concurrent use without locking.
package formats

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"converto/internal/cverr"
)

// Category partitions supported media into the four conversion families.
type Category string

const (
	CategoryImage    Category = "image"
	CategoryAudio    Category = "audio"
	CategoryVideo    Category = "video"
	CategoryDocument Category = "document"
)

// Backend identifiers referenced by the candidate tables. Each maps to one
// converter implementation registered with the dispatcher.
const (
	BackendImaging     = "imaging"
	BackendPDFWriter   = "pdfwriter"
	BackendPDFText     = "pdftext"
	BackendDocxWriter  = "docxwriter"
	BackendFFmpegAudio = "ffmpeg-audio"
	BackendGoAudio     = "goaudio"
	BackendFFmpegVideo = "ffmpeg-video"
	BackendFFmpegRemux = "ffmpeg-remux"
	BackendGotenberg   = "gotenberg"
	BackendPoppler     = "poppler"
)

type pairKey struct {
	category Category
	in       string
	out      string
}

var inputCategories = map[string]Category{}

var candidateTable = map[pairKey][]string{}

// inputExts lists recognized input extensions per category. Order matters
// only for presentation; lookups go through inputCategories.
var inputExts = map[Category][]string{
	CategoryImage:    {"jpg", "jpeg", "png", "bmp", "gif", "webp", "ico", "tif", "tiff"},
	CategoryAudio:    {"mp3", "wav", "flac", "ogg", "m4a", "aac"},
	CategoryVideo:    {"mp4", "avi", "mov", "mkv", "wmv", "flv", "webm"},
	CategoryDocument: {"pdf", "doc", "docx", "txt"},
}

var outputExts = map[Category][]string{
	CategoryImage:    {"jpg", "jpeg", "png", "bmp", "gif", "webp", "tif", "tiff", "pdf"},
	CategoryAudio:    {"mp3", "wav", "flac", "ogg", "m4a"},
	CategoryVideo:    {"mp4", "avi", "mov", "mkv", "webm"},
	CategoryDocument: {"pdf", "docx", "txt", "jpg"},
}

func init() {
	for category, exts := range inputExts {
		for _, ext := range exts {
			inputCategories[ext] = category
		}
	}

	imageRaster := []string{"jpg", "jpeg", "png", "bmp", "gif", "webp", "tif", "tiff"}
	for _, in := range inputExts[CategoryImage] {
		for _, out := range imageRaster {
			register(CategoryImage, in, out, BackendImaging)
		}
		register(CategoryImage, in, "pdf", BackendPDFWriter)
	}

	for _, in := range inputExts[CategoryAudio] {
		for _, out := range outputExts[CategoryAudio] {
			register(CategoryAudio, in, out, BackendFFmpegAudio, BackendGoAudio)
		}
	}

	for _, in := range inputExts[CategoryVideo] {
		for _, out := range outputExts[CategoryVideo] {
			register(CategoryVideo, in, out, BackendFFmpegVideo, BackendFFmpegRemux)
		}
	}

	// Document pairs are enumerated explicitly; the category has no
	// all-to-all matrix.
	register(CategoryDocument, "txt", "pdf", BackendGotenberg, BackendPDFWriter)
	register(CategoryDocument, "doc", "pdf", BackendGotenberg)
	register(CategoryDocument, "docx", "pdf", BackendGotenberg)
	register(CategoryDocument, "pdf", "txt", BackendPDFText)
	register(CategoryDocument, "pdf", "jpg", BackendPoppler)
	register(CategoryDocument, "pdf", "docx", BackendDocxWriter)
}

func register(category Category, in, out string, backends ...string) {
	candidateTable[pairKey{category: category, in: in, out: out}] = backends
}

// NormalizeExt lower-cases an extension and strips any leading dot.
func NormalizeExt(ext string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
}

// Classify maps a filename to its category and normalized extension.
func Classify(filename string) (Category, string, error) {
	ext := NormalizeExt(filepath.Ext(filename))
	if ext == "" {
		return "", "", cverr.Wrap(cverr.ErrUnsupportedInput, "formats", fmt.Sprintf("no extension on %q", filepath.Base(filename)), nil)
	}
	category, ok := inputCategories[ext]
	if !ok {
		return "", "", cverr.Wrap(cverr.ErrUnsupportedInput, "formats", fmt.Sprintf("extension %q not recognized", ext), nil)
	}
	return category, ext, nil
}

// Candidates returns the ordered backend chain for a conversion triple,
// highest preference first. The returned slice is a copy.
func Candidates(category Category, inExt, outExt string) ([]string, error) {
	key := pairKey{category: category, in: NormalizeExt(inExt), out: NormalizeExt(outExt)}
	backends, ok := candidateTable[key]
	if !ok {
		detail := fmt.Sprintf("%s: %s -> %s not supported", category, key.in, key.out)
		return nil, cverr.Wrap(cverr.ErrUnsupportedConversion, "formats", detail, nil)
	}
	cp := make([]string, len(backends))
	copy(cp, backends)
	return cp, nil
}

// Outputs returns the output extensions reachable from the given input
// extension, sorted, for presentation.
func Outputs(category Category, inExt string) []string {
	in := NormalizeExt(inExt)
	var outs []string
	for key := range candidateTable {
		if key.category == category && key.in == in {
			outs = append(outs, key.out)
		}
	}
	sort.Strings(outs)
	return outs
}

// Categories returns the categories in presentation order.
func Categories() []Category {
	return []Category{CategoryImage, CategoryAudio, CategoryVideo, CategoryDocument}
}

// InputExtensions returns the recognized input extensions for a category.
func InputExtensions(category Category) []string {
	exts := inputExts[category]
	cp := make([]string, len(exts))
	copy(cp, exts)
	return cp
}

// OutputExtensions returns the advertised output extensions for a category.
func OutputExtensions(category Category) []string {
	exts := outputExts[category]
	cp := make([]string, len(exts))
	copy(cp, exts)
	return cp
}
