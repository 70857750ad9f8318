package logging

import (
	"sync"

	"dirmirror/internal/buffer"
)

// LogBuffer keeps the most recent entries, oldest first.
type LogBuffer struct {
	mu      sync.Mutex
	entries *buffer.Ring[LogEntry]
}

func NewLogBuffer(size int) *LogBuffer {
	return &LogBuffer{
		entries: buffer.NewRing[LogEntry](size),
	}
}

func (b *LogBuffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries.Add(entry)
}

func (b *LogBuffer) List() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.List()
}

// Find returns buffered entries with the given message.
func (b *LogBuffer) Find(message string) []LogEntry {
	var matches []LogEntry
	for _, entry := range b.List() {
		if entry.Message == message {
			matches = append(matches, entry)
		}
	}
	return matches
}
