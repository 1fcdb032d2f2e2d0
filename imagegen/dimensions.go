package imagegen

// Default dimensions used when an aspect ratio label is not recognized.
const (
	DefaultWidth  = 1408
	DefaultHeight = 800

	DefaultAspectRatio = "16:9"
)

type dimensions struct {
	width, height int
}

var aspectRatioDimensions = map[string]dimensions{
	"1:1":  {1024, 1024},
	"4:3":  {1408, 1024},
	"3:4":  {1024, 1408},
	"16:9": {1408, 800},
	"9:16": {800, 1408},
	"21:9": {1408, 608},
	"9:21": {608, 1408},
}

// AspectRatios lists the labels accepted by the service, widest first.
var AspectRatios = []string{"21:9", "16:9", "4:3", "1:1", "3:4", "9:16", "9:21"}

// ResolveDimensions maps an aspect ratio label to the pixel size used by the
// standard (non-ultra) endpoint. Unknown labels resolve to 1408x800.
func ResolveDimensions(aspectRatio string) (width, height int) {
	if d, ok := aspectRatioDimensions[aspectRatio]; ok {
		return d.width, d.height
	}
	return DefaultWidth, DefaultHeight
}

// IsAspectRatio reports whether label is one of the supported aspect ratios.
func IsAspectRatio(label string) bool {
	_, ok := aspectRatioDimensions[label]
	return ok
}
