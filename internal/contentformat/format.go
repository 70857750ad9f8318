// Package contentformat maps file names to content formats.
//
// Formats carry the numeric code used by constrained protocols alongside the
// MIME type used by HTTP hosts, so either side of a request can name them.
package contentformat

import (
	"mime"
	"strconv"
	"strings"
)

// Format identifies a representation type.
type Format struct {
	Code      int
	MediaType string
}

var (
	// Undefined means the request did not ask for a particular format.
	Undefined = Format{Code: -1}

	// None means a node has no inferred format.
	None = Format{Code: -2}

	TextPlain       = Format{Code: 0, MediaType: "text/plain"}
	TextXML         = Format{Code: 1, MediaType: "text/xml"}
	TextCSV         = Format{Code: 2, MediaType: "text/csv"}
	TextHTML        = Format{Code: 3, MediaType: "text/html"}
	ImageGIF        = Format{Code: 21, MediaType: "image/gif"}
	ImageJPEG       = Format{Code: 22, MediaType: "image/jpeg"}
	ImagePNG        = Format{Code: 23, MediaType: "image/png"}
	ImageTIFF       = Format{Code: 24, MediaType: "image/tiff"}
	LinkFormat      = Format{Code: 40, MediaType: "application/link-format"}
	ApplicationXML  = Format{Code: 41, MediaType: "application/xml"}
	OctetStream     = Format{Code: 42, MediaType: "application/octet-stream"}
	ApplicationJSON = Format{Code: 50, MediaType: "application/json"}

	// ApplicationYAML sits in the experimental code range.
	ApplicationYAML = Format{Code: 65000, MediaType: "application/yaml"}
)

var knownFormats = []Format{
	TextPlain, TextXML, TextCSV, TextHTML,
	ImageGIF, ImageJPEG, ImagePNG, ImageTIFF,
	LinkFormat, ApplicationXML, OctetStream, ApplicationJSON, ApplicationYAML,
}

// IsUndefined reports whether f is the "no requirement" marker.
func (f Format) IsUndefined() bool {
	return f.Code == Undefined.Code
}

// IsNone reports whether f is the "no inferred format" marker.
func (f Format) IsNone() bool {
	return f.Code == None.Code
}

func (f Format) String() string {
	switch {
	case f.IsUndefined():
		return "undefined"
	case f.IsNone():
		return "none"
	case f.MediaType != "":
		return f.MediaType
	default:
		return strconv.Itoa(f.Code)
	}
}

// ParseCode resolves a numeric content format code.
func ParseCode(value string) (Format, bool) {
	code, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return Format{}, false
	}
	if code == Undefined.Code {
		return Undefined, true
	}
	for _, format := range knownFormats {
		if format.Code == code {
			return format, true
		}
	}
	return Format{}, false
}

// ParseMediaType resolves a MIME type, ignoring parameters such as charset.
// Wildcards resolve to Undefined.
func ParseMediaType(value string) (Format, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Undefined, true
	}
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return Format{}, false
	}
	if mediaType == "*/*" || strings.HasSuffix(mediaType, "/*") {
		return Undefined, true
	}
	for _, format := range knownFormats {
		if format.MediaType == mediaType {
			return format, true
		}
	}
	return Format{}, false
}
