package domain

import "encoding/json"

// appendLog is an append-only sequence. Entries can be read but never
// replaced; Append never writes into a backing array another copy can see.
type appendLog[T any] struct {
	entries []T
}

func newAppendLog[T any](entries []T) appendLog[T] {
	copied := make([]T, len(entries))
	copy(copied, entries)
	return appendLog[T]{entries: copied}
}

// Len returns the number of entries.
func (l appendLog[T]) Len() int { return len(l.entries) }

// At returns a copy of the i-th entry.
func (l appendLog[T]) At(i int) T { return l.entries[i] }

// Last returns the newest entry.
func (l appendLog[T]) Last() (T, bool) {
	if len(l.entries) == 0 {
		var zero T
		return zero, false
	}
	return l.entries[len(l.entries)-1], true
}

// Entries returns a copy of all entries, oldest first.
func (l appendLog[T]) Entries() []T {
	out := make([]T, len(l.entries))
	copy(out, l.entries)
	return out
}

// Since returns copies of entries at index from onwards.
func (l appendLog[T]) Since(from int) []T {
	if from >= len(l.entries) {
		return nil
	}
	if from < 0 {
		from = 0
	}
	out := make([]T, len(l.entries)-from)
	copy(out, l.entries[from:])
	return out
}

func (l *appendLog[T]) append(entry T) {
	l.entries = append(l.entries[:len(l.entries):len(l.entries)], entry)
}

func (l appendLog[T]) MarshalJSON() ([]byte, error) {
	if l.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.entries)
}

func (l *appendLog[T]) UnmarshalJSON(data []byte) error {
	var entries []T
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	l.entries = entries
	return nil
}

// StatusHistory is the append-only status log. The current status is the
// last entry.
type StatusHistory struct {
	appendLog[StatusEntry]
}

// NewStatusHistory rebuilds a history from stored entries.
func NewStatusHistory(entries ...StatusEntry) StatusHistory {
	return StatusHistory{newAppendLog(entries)}
}

// Append adds entry at the end.
func (h *StatusHistory) Append(entry StatusEntry) { h.append(entry) }

func (h StatusHistory) clone() StatusHistory { return NewStatusHistory(h.entries...) }

// AuditLog is the append-only log of detail and item edits.
type AuditLog struct {
	appendLog[AuditEntry]
}

// NewAuditLog rebuilds an audit log from stored entries.
func NewAuditLog(entries ...AuditEntry) AuditLog {
	return AuditLog{newAppendLog(entries)}
}

// Append adds entry at the end.
func (l *AuditLog) Append(entry AuditEntry) { l.append(entry) }

func (l AuditLog) clone() AuditLog { return NewAuditLog(l.entries...) }
