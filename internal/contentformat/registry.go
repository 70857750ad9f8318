package contentformat

import "strings"

// Entry associates a file name suffix with a format.
type Entry struct {
	Suffix string
	Format Format
}

// Registry is an ordered suffix table. The first matching entry wins.
type Registry struct {
	entries []Entry
}

var defaultEntries = []Entry{
	{Suffix: ".txt", Format: TextPlain},
	{Suffix: ".html", Format: TextHTML},
	{Suffix: ".csv", Format: TextCSV},
	{Suffix: ".json", Format: ApplicationJSON},
	{Suffix: ".gif", Format: ImageGIF},
	{Suffix: ".jpeg", Format: ImageJPEG},
	{Suffix: ".jpg", Format: ImageJPEG},
	{Suffix: ".png", Format: ImagePNG},
	{Suffix: ".tiff", Format: ImageTIFF},
	{Suffix: ".xml", Format: ApplicationXML},
}

// Default is the registry used by the mirror.
var Default = NewRegistry(defaultEntries...)

// NewRegistry builds a registry. Later entries repeating a suffix are ignored.
func NewRegistry(entries ...Entry) *Registry {
	seen := make(map[string]struct{}, len(entries))
	kept := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.Suffix == "" {
			continue
		}
		if _, ok := seen[entry.Suffix]; ok {
			continue
		}
		seen[entry.Suffix] = struct{}{}
		kept = append(kept, entry)
	}
	return &Registry{entries: kept}
}

// Lookup returns the format of the first entry whose suffix ends name, or None.
func (r *Registry) Lookup(name string) Format {
	if r == nil {
		return None
	}
	for _, entry := range r.entries {
		if strings.HasSuffix(name, entry.Suffix) {
			return entry.Format
		}
	}
	return None
}

// Entries returns a copy of the table in lookup order.
func (r *Registry) Entries() []Entry {
	if r == nil {
		return nil
	}
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
