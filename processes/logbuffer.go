package processes

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"
)

// LogEntry represents a single log line captured from a game process
type LogEntry struct {
	ID      int64     `json:"rowId"`
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	Class   string    `json:"class"`
	Message string    `json:"message"`
}

// Filter selects log entries. Empty fields match everything.
type Filter struct {
	Levels  []Level
	Classes []string
	FromID  int64 // only entries with a greater ID
}

// Match reports whether e passes the filter.
func (f Filter) Match(e LogEntry) bool {
	if e.ID <= f.FromID {
		return false
	}
	if len(f.Levels) > 0 && !slices.Contains(f.Levels, e.Level) {
		return false
	}
	if len(f.Classes) > 0 && !slices.Contains(f.Classes, e.Class) {
		return false
	}
	return true
}

// LogBuffer keeps every log entry of a running game, across restarts, along
// with the set of log classes seen so far. Row IDs start at 1 and increase by
// one per entry.
type LogBuffer struct {
	mu        sync.RWMutex
	entries   []LogEntry
	classes   []string
	classSet  map[string]struct{}
	nextID    int64
	callbacks map[int]func(LogEntry)
	nextCbID  int
}

// NewLogBuffer creates an empty log buffer
func NewLogBuffer() *LogBuffer {
	return &LogBuffer{
		classSet:  make(map[string]struct{}),
		nextID:    1,
		callbacks: make(map[int]func(LogEntry)),
	}
}

// Append stores a new entry and notifies the registered callbacks. Callbacks
// run synchronously, in registration order, after the buffer lock is released.
func (lb *LogBuffer) Append(t time.Time, level Level, class, message string) LogEntry {
	lb.mu.Lock()
	entry := LogEntry{
		ID:      lb.nextID,
		Time:    t,
		Level:   level,
		Class:   class,
		Message: message,
	}
	lb.entries = append(lb.entries, entry)
	lb.nextID++
	lb.addClassLocked(class)

	ids := make([]int, 0, len(lb.callbacks))
	for id := range lb.callbacks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	callbacks := make([]func(LogEntry), 0, len(ids))
	for _, id := range ids {
		callbacks = append(callbacks, lb.callbacks[id])
	}
	lb.mu.Unlock()

	for _, callback := range callbacks {
		callback(entry)
	}
	return entry
}

// AddClass records a log class. It reports whether the class was new.
func (lb *LogBuffer) AddClass(class string) bool {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.addClassLocked(class)
}

func (lb *LogBuffer) addClassLocked(class string) bool {
	if _, ok := lb.classSet[class]; ok {
		return false
	}
	lb.classSet[class] = struct{}{}
	lb.classes = append(lb.classes, class)
	return true
}

// Classes returns the known log classes in the order they were first seen.
func (lb *LogBuffer) Classes() []string {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return slices.Clone(lb.classes)
}

// AddCallback registers a function called for every new entry. The returned
// function unregisters it.
func (lb *LogBuffer) AddCallback(callback func(LogEntry)) (remove func()) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	id := lb.nextCbID
	lb.nextCbID++
	lb.callbacks[id] = callback

	var once sync.Once
	return func() {
		once.Do(func() {
			lb.mu.Lock()
			defer lb.mu.Unlock()
			delete(lb.callbacks, id)
		})
	}
}

// Entries returns the entries matching the filter, oldest first.
func (lb *LogBuffer) Entries(f Filter) []LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	result := make([]LogEntry, 0)
	for _, entry := range lb.entries {
		if f.Match(entry) {
			result = append(result, entry)
		}
	}
	return result
}

// EntriesFromID returns all log entries with ID greater than the specified ID
func (lb *LogBuffer) EntriesFromID(fromID int64) []LogEntry {
	return lb.Entries(Filter{FromID: fromID})
}

// Latest returns the most recent count entries.
func (lb *LogBuffer) Latest(count int) []LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	if count <= 0 || len(lb.entries) == 0 {
		return []LogEntry{}
	}

	start := max(len(lb.entries)-count, 0)
	result := make([]LogEntry, len(lb.entries)-start)
	copy(result, lb.entries[start:])
	return result
}

// LatestID returns the ID of the most recent log entry, or 0 when empty.
func (lb *LogBuffer) LatestID() int64 {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.nextID - 1
}

// Len returns the number of stored entries.
func (lb *LogBuffer) Len() int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return len(lb.entries)
}

// Export writes the matching entries as "HH:MM:SS [class] <level> message"
// lines. Times are in UTC.
func (lb *LogBuffer) Export(w io.Writer, f Filter) error {
	bw := bufio.NewWriter(w)
	for _, entry := range lb.Entries(f) {
		if err := WriteEntry(bw, entry); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteEntry writes one entry in the Export format.
func WriteEntry(w io.Writer, entry LogEntry) error {
	_, err := fmt.Fprintf(w, "%s [%s] <%s> %s\n",
		entry.Time.UTC().Format(time.TimeOnly), entry.Class, entry.Level, entry.Message)
	if err != nil {
		return fmt.Errorf("failed to write log entry %d: %w", entry.ID, err)
	}
	return nil
}
