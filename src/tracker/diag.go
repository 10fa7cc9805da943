package tracker

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Diag is a deduplicating diagnostic sink. A persistently bad symbol or
// quote would otherwise log the same complaint on every tick; Diag logs once
// per (signal, condition) until the condition is cleared.
type Diag struct {
	log  *logrus.Entry
	seen map[string]struct{}
}

// NewDiag creates a sink writing through the given logger entry.
func NewDiag(log *logrus.Entry) *Diag {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Diag{log: log, seen: make(map[string]struct{})}
}

func (d *Diag) key(messageID int64, condition string) string {
	return fmt.Sprintf("%d/%s", messageID, condition)
}

// Once logs a warning for (messageID, condition) the first time only.
func (d *Diag) Once(messageID int64, condition string, fields logrus.Fields, msg string) {
	k := d.key(messageID, condition)
	if _, dup := d.seen[k]; dup {
		return
	}
	d.seen[k] = struct{}{}
	d.log.WithField("message_id", messageID).WithFields(fields).Warn(msg)
}

// Clear forgets a condition so it logs again if it recurs. Called when the
// condition resolves (e.g. a quote refresh succeeds after failures).
func (d *Diag) Clear(messageID int64, condition string) {
	delete(d.seen, d.key(messageID, condition))
}

// Drop forgets every condition recorded for a signal. Called when the signal
// leaves the tracking set.
func (d *Diag) Drop(messageID int64) {
	prefix := fmt.Sprintf("%d/", messageID)
	for k := range d.seen {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(d.seen, k)
		}
	}
}
