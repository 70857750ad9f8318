package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"dirmirror/internal/contentformat"
	"dirmirror/internal/otel"

	"go.opentelemetry.io/otel/attribute"
)

// Content is a successful read.
type Content struct {
	Node   Node
	Body   []byte
	Format contentformat.Format
}

// negotiate decides whether a node can answer a request for requested and
// which format the response carries.
func negotiate(nodeFormat, requested contentformat.Format) (contentformat.Format, error) {
	switch {
	case requested.IsUndefined():
		return nodeFormat, nil
	case !nodeFormat.IsNone() && requested.Code == nodeFormat.Code:
		return nodeFormat, nil
	case nodeFormat.IsNone() && requested.Code == contentformat.TextPlain.Code:
		return contentformat.TextPlain, nil
	default:
		return contentformat.Format{}, fmt.Errorf("%w: have %s, want %s", ErrNotAcceptable, nodeFormat, requested)
	}
}

func (m *Mirror) read(ctx context.Context, relativePath string, requested contentformat.Format) (Content, error) {
	node, ok := m.sync.FindNode(relativePath)
	if !ok {
		return Content{}, fmt.Errorf("%w: %q", ErrNotFound, relativePath)
	}
	otel.RecordSpanEvent(ctx, "mirror.resolved",
		attribute.String("mirror.node.path", node.Path),
		attribute.String("mirror.node.kind", node.Kind.String()),
	)

	if node.IsDirectory() {
		return m.readDirectory(node, requested)
	}
	format, err := negotiate(node.Format, requested)
	if err != nil {
		return Content{}, err
	}

	// No tree lock is held here; the file may vanish under us.
	body, err := os.ReadFile(m.sync.absolute(node.Path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Content{}, fmt.Errorf("%w: %q", ErrNotFound, relativePath)
		}
		m.logger.Error("leaf read failed", withMirrorFields(map[string]string{
			"path":  node.Path,
			"error": err.Error(),
		}))
		return Content{}, fmt.Errorf("%w: %w", ErrIOFault, err)
	}
	return Content{Node: node, Body: body, Format: format}, nil
}

// ListingEntry describes one child in a JSON directory listing.
type ListingEntry struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Kind       string `json:"kind"`
	Format     *int   `json:"ct,omitempty"`
	MediaType  string `json:"media_type,omitempty"`
	Observable bool   `json:"observable"`
}

// readDirectory lists the children at call time: sorted names as text/plain
// by default, or ListingEntry values when application/json is asked for.
func (m *Mirror) readDirectory(node Node, requested contentformat.Format) (Content, error) {
	switch {
	case requested.IsUndefined(), requested.Code == contentformat.TextPlain.Code:
		names, ok := m.sync.tree.childNames(node.Path)
		if !ok {
			return Content{}, fmt.Errorf("%w: %q", ErrNotFound, node.Path)
		}
		return Content{
			Node:   node,
			Body:   []byte(strings.Join(names, "\n")),
			Format: contentformat.TextPlain,
		}, nil
	case requested.Code == contentformat.ApplicationJSON.Code:
		children, ok := m.sync.tree.children(node.Path)
		if !ok {
			return Content{}, fmt.Errorf("%w: %q", ErrNotFound, node.Path)
		}
		listing := make([]ListingEntry, 0, len(children))
		for _, child := range children {
			listing = append(listing, listingEntry(child))
		}
		body, err := json.Marshal(listing)
		if err != nil {
			return Content{}, fmt.Errorf("%w: %w", ErrIOFault, err)
		}
		return Content{Node: node, Body: body, Format: contentformat.ApplicationJSON}, nil
	default:
		return Content{}, fmt.Errorf("%w: directory listing as %s", ErrNotAcceptable, requested)
	}
}

func listingEntry(node Node) ListingEntry {
	item := ListingEntry{
		Name:       node.Name,
		Path:       node.Path,
		Kind:       node.Kind.String(),
		Observable: node.Observable,
	}
	if !node.Format.IsNone() && !node.Format.IsUndefined() {
		code := node.Format.Code
		item.Format = &code
		item.MediaType = node.Format.MediaType
	}
	return item
}
