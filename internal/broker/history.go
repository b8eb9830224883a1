package broker

// HistoryLog is an insertion-ordered buffer of messages bounded to a fixed
// number of entries. It is not safe for concurrent use; the Broker guards it.
type HistoryLog struct {
	entries []ChatMessage
	limit   int
}

// NewHistoryLog creates an empty log holding at most limit messages. A
// non-positive limit falls back to DefaultHistoryLimit.
func NewHistoryLog(limit int) *HistoryLog {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &HistoryLog{
		entries: make([]ChatMessage, 0, limit),
		limit:   limit,
	}
}

// Append adds msg to the end of the log, evicting the oldest entry when the
// log is already full.
func (h *HistoryLog) Append(msg ChatMessage) {
	if len(h.entries) >= h.limit {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:len(h.entries)-1]
	}
	h.entries = append(h.entries, msg)
}

// Snapshot returns a copy of the log contents, oldest first.
func (h *HistoryLog) Snapshot() []ChatMessage {
	out := make([]ChatMessage, len(h.entries))
	copy(out, h.entries)
	return out
}

// Clear empties the log.
func (h *HistoryLog) Clear() {
	h.entries = h.entries[:0]
}

// Len returns the number of retained messages.
func (h *HistoryLog) Len() int {
	return len(h.entries)
}
