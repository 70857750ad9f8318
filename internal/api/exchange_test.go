package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dirmirror/internal/contentformat"
	"dirmirror/internal/host"

	"github.com/klauspost/compress/zstd"
)

func TestRequestedFormat(t *testing.T) {
	cases := []struct {
		name   string
		target string
		accept string
		want   contentformat.Format
		status int
	}{
		{name: "absent", target: "/", want: contentformat.Undefined},
		{name: "wildcard", target: "/", accept: "*/*", want: contentformat.Undefined},
		{name: "json header", target: "/", accept: "application/json", want: contentformat.ApplicationJSON},
		{name: "first known range", target: "/", accept: "application/pdf, text/csv;q=0.5", want: contentformat.TextCSV},
		{name: "code wins over header", target: "/?ct=0", accept: "application/json", want: contentformat.TextPlain},
		{name: "undefined code", target: "/?ct=-1", want: contentformat.Undefined},
		{name: "unregistered code", target: "/?ct=77", want: contentformat.Format{Code: 77}},
		{name: "bad code", target: "/?ct=x", status: http.StatusBadRequest},
		{name: "unknown header", target: "/", accept: "application/pdf", status: http.StatusNotAcceptable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.accept != "" {
				req.Header.Set("Accept", tc.accept)
			}
			got, apiErr := requestedFormat(req)
			if tc.status != 0 {
				if apiErr == nil || apiErr.Status != tc.status {
					t.Fatalf("expected status %d, got %+v", tc.status, apiErr)
				}
				return
			}
			if apiErr != nil {
				t.Fatalf("unexpected error %+v", apiErr)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		status host.Status
		want   int
	}{
		{host.StatusContent, http.StatusOK},
		{host.StatusDeleted, http.StatusOK},
		{host.StatusCreated, http.StatusCreated},
		{host.StatusChanged, http.StatusNoContent},
		{host.StatusNotFound, http.StatusNotFound},
		{host.StatusNotAcceptable, http.StatusNotAcceptable},
		{host.StatusMethodNotAllowed, http.StatusMethodNotAllowed},
		{host.StatusPreconditionFailed, http.StatusPreconditionFailed},
		{host.StatusInternalError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := httpStatus(tc.status); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.status, tc.want, got)
		}
	}
}

func TestExchangeRespondsOnce(t *testing.T) {
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	exchange := newHTTPExchange(recorder, req, contentformat.Undefined, false)
	exchange.Accept()
	exchange.RespondContent(host.StatusContent, []byte("first"), contentformat.TextPlain)
	exchange.Respond(host.StatusNotFound)
	if recorder.Code != http.StatusOK || recorder.Body.String() != "first" {
		t.Fatalf("expected first response to stand, got %d %q", recorder.Code, recorder.Body.String())
	}
}

func TestZstdResponse(t *testing.T) {
	h := newTestHost(t, withCompression())
	content := strings.Repeat("compressible line\n", 200)
	writeTestFile(t, h.root+"/big.txt", content)
	eventually(t, "big.txt mirrored", func() bool {
		_, ok := h.mirror.FindNode("big.txt")
		return ok
	})

	res := h.do(http.MethodGet, "/files/big.txt", nil, map[string]string{"Accept-Encoding": "gzip, zstd"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get("Content-Encoding") != "zstd" {
		t.Fatalf("expected zstd encoding")
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer decoder.Close()
	decoded, err := decoder.DecodeAll(res.Body.Bytes(), nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded) != content {
		t.Fatalf("decoded body mismatch")
	}

	res = h.do(http.MethodGet, "/files/a.txt", nil, map[string]string{"Accept-Encoding": "zstd"})
	if res.Header().Get("Content-Encoding") != "" {
		t.Fatalf("expected small body to stay uncompressed")
	}
	res = h.do(http.MethodGet, "/files/big.txt", nil, nil)
	if res.Header().Get("Content-Encoding") != "" || res.Body.String() != content {
		t.Fatalf("expected identity encoding without Accept-Encoding")
	}
}
