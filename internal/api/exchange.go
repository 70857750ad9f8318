package api

import (
	"net/http"
	"strconv"
	"strings"
	"sync"

	"dirmirror/internal/contentformat"
	"dirmirror/internal/host"
	"dirmirror/internal/otel"

	"github.com/klauspost/compress/zstd"
)

// Bodies below this size are sent uncompressed.
const minCompressSize = 512

var (
	zstdEncoderOnce sync.Once
	zstdEncoder     *zstd.Encoder
	zstdEncoderErr  error
)

func sharedZstdEncoder() (*zstd.Encoder, error) {
	zstdEncoderOnce.Do(func() {
		zstdEncoder, zstdEncoderErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return zstdEncoder, zstdEncoderErr
}

// httpExchange adapts one HTTP request to host.Exchange.
type httpExchange struct {
	w         http.ResponseWriter
	r         *http.Request
	requested contentformat.Format
	compress  bool
	accepted  bool
	status    host.Status
	responded bool
}

func newHTTPExchange(w http.ResponseWriter, r *http.Request, requested contentformat.Format, compress bool) *httpExchange {
	return &httpExchange{w: w, r: r, requested: requested, compress: compress}
}

func (exchange *httpExchange) RequestedFormat() contentformat.Format {
	return exchange.requested
}

// Accept has no wire effect over HTTP; it only marks the span.
func (exchange *httpExchange) Accept() {
	if exchange.accepted {
		return
	}
	exchange.accepted = true
	otel.RecordSpanEvent(exchange.r.Context(), "exchange.accepted")
}

func (exchange *httpExchange) Respond(status host.Status) {
	if exchange.responded {
		return
	}
	exchange.responded = true
	exchange.status = status
	code := httpStatus(status)
	if status == host.StatusMethodNotAllowed {
		exchange.w.Header().Set("Allow", "GET, HEAD")
	}
	if status.Success() {
		exchange.w.WriteHeader(code)
		return
	}
	writeJSONError(exchange.w, &apiError{Status: code, Message: status.String(), Code: status.Label()})
}

func (exchange *httpExchange) RespondContent(status host.Status, body []byte, format contentformat.Format) {
	if exchange.responded {
		return
	}
	exchange.responded = true
	exchange.status = status

	headers := exchange.w.Header()
	headers.Set("Content-Type", mediaTypeFor(format))
	headers.Set("X-Content-Format", strconv.Itoa(formatCode(format)))
	headers.Add("Vary", "Accept, Accept-Encoding")
	if exchange.compress && len(body) >= minCompressSize && acceptsZstd(exchange.r) {
		if encoder, err := sharedZstdEncoder(); err == nil {
			body = encoder.EncodeAll(body, make([]byte, 0, len(body)/2))
			headers.Set("Content-Encoding", "zstd")
		}
	}
	headers.Set("Content-Length", strconv.Itoa(len(body)))
	exchange.w.WriteHeader(httpStatus(status))
	_, _ = exchange.w.Write(body)
}

// mediaTypeFor renders a response format. Nodes without a format are served
// as opaque bytes.
func mediaTypeFor(format contentformat.Format) string {
	if format.MediaType == "" {
		return contentformat.OctetStream.MediaType
	}
	if strings.HasPrefix(format.MediaType, "text/") {
		return format.MediaType + "; charset=utf-8"
	}
	return format.MediaType
}

func formatCode(format contentformat.Format) int {
	if format.IsNone() || format.IsUndefined() {
		return contentformat.OctetStream.Code
	}
	return format.Code
}

// requestedFormat reads the wanted representation from ?ct=<code>, falling
// back to the Accept header. The first recognised media range wins; wildcards
// and an absent header mean no requirement.
func requestedFormat(r *http.Request) (contentformat.Format, *apiError) {
	if raw := strings.TrimSpace(r.URL.Query().Get("ct")); raw != "" {
		code, err := strconv.Atoi(raw)
		if err != nil {
			return contentformat.Format{}, &apiError{Status: http.StatusBadRequest, Message: "invalid ct parameter"}
		}
		if format, ok := contentformat.ParseCode(raw); ok {
			return format, nil
		}
		return contentformat.Format{Code: code}, nil
	}

	accept := strings.TrimSpace(r.Header.Get("Accept"))
	if accept == "" {
		return contentformat.Undefined, nil
	}
	for _, mediaRange := range strings.Split(accept, ",") {
		if format, ok := contentformat.ParseMediaType(mediaRange); ok {
			return format, nil
		}
	}
	return contentformat.Format{}, &apiError{Status: http.StatusNotAcceptable, Message: "no acceptable content format"}
}

func acceptsZstd(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(name, "zstd") {
			return true
		}
	}
	return false
}
