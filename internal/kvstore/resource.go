package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"dirmirror/internal/contentformat"
	"dirmirror/internal/host"

	"gopkg.in/yaml.v3"
)

// Request is one protocol-neutral call against the store. Segments are the
// path below the store root; none means the root itself.
type Request struct {
	Method      host.Method
	Segments    []string
	Body        []byte
	IfNoneMatch bool
	Format      contentformat.Format
}

type Response struct {
	Status   host.Status
	Body     []byte
	Format   contentformat.Format
	Location string
}

// Serve answers a request. The root lists every pair; a key answers with
// its value. POST is never allowed and the root cannot be written.
func (s *Store) Serve(request Request) Response {
	response := s.serve(request)
	s.metrics.IncKVOperation(request.Method.String(), response.Status.Label())
	return response
}

func (s *Store) serve(request Request) Response {
	segments := trimSegments(request.Segments)
	if request.Method == host.MethodPost {
		return Response{Status: host.StatusMethodNotAllowed}
	}
	if len(segments) == 0 {
		if request.Method != host.MethodGet {
			return Response{Status: host.StatusMethodNotAllowed}
		}
		return s.renderRoot(request.Format)
	}

	key := s.KeyFor(segments)
	switch request.Method {
	case host.MethodGet:
		value, err := s.Get(key)
		if err != nil {
			return Response{
				Status: host.StatusNotFound,
				Body:   []byte("did not find property " + key),
				Format: contentformat.TextPlain,
			}
		}
		return Response{Status: host.StatusContent, Body: []byte(value), Format: contentformat.TextPlain}
	case host.MethodPut:
		created, err := s.Put(key, string(request.Body), request.IfNoneMatch)
		switch {
		case errors.Is(err, ErrPreconditionFailed):
			return Response{Status: host.StatusPreconditionFailed}
		case err != nil:
			return Response{Status: host.StatusInternalError}
		case created:
			return Response{Status: host.StatusCreated, Location: s.PathFor(key)}
		default:
			return Response{Status: host.StatusChanged}
		}
	case host.MethodDelete:
		if err := s.Delete(key); err != nil {
			return Response{Status: host.StatusNotFound}
		}
		return Response{Status: host.StatusDeleted}
	default:
		return Response{Status: host.StatusMethodNotAllowed}
	}
}

func (s *Store) renderRoot(requested contentformat.Format) Response {
	snapshot := s.Snapshot()
	switch {
	case requested.IsUndefined(), requested.Code == contentformat.TextPlain.Code:
		return Response{Status: host.StatusContent, Body: renderProperties(snapshot), Format: contentformat.TextPlain}
	case requested.Code == contentformat.ApplicationJSON.Code:
		body, err := json.Marshal(snapshot)
		if err != nil {
			return Response{Status: host.StatusInternalError}
		}
		return Response{Status: host.StatusContent, Body: body, Format: contentformat.ApplicationJSON}
	case requested.Code == contentformat.ApplicationYAML.Code:
		body, err := yaml.Marshal(snapshot)
		if err != nil {
			return Response{Status: host.StatusInternalError}
		}
		return Response{Status: host.StatusContent, Body: body, Format: contentformat.ApplicationYAML}
	case requested.Code == contentformat.LinkFormat.Code:
		return Response{Status: host.StatusContent, Body: s.renderLinks(snapshot), Format: contentformat.LinkFormat}
	default:
		return Response{Status: host.StatusNotAcceptable}
	}
}

// renderProperties writes one key=value line per pair, sorted by key.
func renderProperties(snapshot map[string]string) []byte {
	keys := make([]string, 0, len(snapshot))
	for key := range snapshot {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var builder strings.Builder
	for _, key := range keys {
		fmt.Fprintf(&builder, "%s=%s\n", key, snapshot[key])
	}
	return []byte(builder.String())
}

// renderLinks lists one child link per key for discovery.
func (s *Store) renderLinks(snapshot map[string]string) []byte {
	keys := make([]string, 0, len(snapshot))
	for key := range snapshot {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	links := make([]string, 0, len(keys))
	for _, key := range keys {
		links = append(links, "<"+s.PathFor(key)+">")
	}
	return []byte(strings.Join(links, ","))
}

func trimSegments(segments []string) []string {
	trimmed := make([]string, 0, len(segments))
	for _, segment := range segments {
		if segment == "" {
			continue
		}
		trimmed = append(trimmed, segment)
	}
	return trimmed
}
