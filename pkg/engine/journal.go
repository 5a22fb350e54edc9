package engine

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/BYTE-6D65/movement/pkg/movement"
)

// Journal keeps the last N recalculations in a ring buffer for debugging.
type Journal struct {
	entries []JournalEntry
	index   int
	size    int
	mu      sync.Mutex
}

// JournalEntry records one recalculation.
type JournalEntry struct {
	At         time.Time
	Entity     string
	ChangeType string
	Change     movement.Change
	Update     movement.MovementData
	History    int // history entries after the update
	Skipped    bool
	Reason     string
}

// NewJournal creates a journal holding size entries.
func NewJournal(size int) *Journal {
	if size <= 0 {
		size = 100
	}

	return &Journal{
		entries: make([]JournalEntry, size),
		size:    size,
	}
}

// Record adds the result of a recalculation.
func (j *Journal) Record(result Result) {
	entry := JournalEntry{
		At:      result.At,
		Entity:  result.Entity,
		Change:  result.Change,
		Update:  result.Data,
		History: len(result.History),
		Skipped: result.Skipped,
		Reason:  result.Reason,
	}
	if result.Change != nil {
		entry.ChangeType = result.Change.ChangeType()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries[j.index] = entry
	j.index = (j.index + 1) % j.size
}

// Entries returns the recorded entries, oldest first.
func (j *Journal) Entries() []JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]JournalEntry, 0, j.size)
	for i := 0; i < j.size; i++ {
		entry := j.entries[(j.index+i)%j.size]
		// skip slots not yet written
		if entry.At.IsZero() {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// Dump writes the journal contents to w in chronological order.
func (j *Journal) Dump(w io.Writer) error {
	entries := j.Entries()

	if _, err := fmt.Fprintf(w, "=== Movement Journal ===\nLast %d of %d entries:\n\n", len(entries), j.size); err != nil {
		return err
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintf(w, "(No recalculations recorded yet)\n")
		return err
	}

	for i, e := range entries {
		speed := "unknown"
		if v, ok := e.Update.Speed.Get(); ok {
			speed = fmt.Sprintf("%.1fkm/h", v)
		}
		_, err := fmt.Fprintf(w, "[%d] %s %s %s\n  distance=%.3fkm adjustments=%.3fkm speed=%s mode=%s changes=%d ignored=%d history=%d\n",
			i+1,
			e.At.Format("15:04:05.000"),
			e.Entity,
			e.ChangeType,
			e.Update.Distance,
			e.Update.Adjustments,
			speed,
			e.Update.Mode,
			e.Update.ChangeCount,
			e.Update.IgnoreCount,
			e.History)
		if err != nil {
			return err
		}

		switch {
		case e.Skipped:
			_, err = fmt.Fprintf(w, "  skipped: %s\n", e.Reason)
		case e.Reason != "":
			_, err = fmt.Fprintf(w, "  transition: %s\n", e.Reason)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
