// Package log bridges third-party logger interfaces onto the shared logrus
// entry so every component's output lands in one stream.
package log

import "github.com/sirupsen/logrus"

// BadgerLogrusAdapter satisfies badger.Logger by delegating to a logrus entry.
// Badger's internal chatter inherits whatever fields and level the entry
// carries.
type BadgerLogrusAdapter struct {
	entry *logrus.Entry
}

// NewBadgerLogrusAdapter wraps an entry for handing to badger's WithLogger
func NewBadgerLogrusAdapter(entry *logrus.Entry) *BadgerLogrusAdapter {
	return &BadgerLogrusAdapter{entry: entry}
}

func (a *BadgerLogrusAdapter) Errorf(format string, args ...any) {
	a.entry.Errorf(format, args...)
}

func (a *BadgerLogrusAdapter) Warningf(format string, args ...any) {
	a.entry.Warningf(format, args...)
}

func (a *BadgerLogrusAdapter) Infof(format string, args ...any) {
	a.entry.Infof(format, args...)
}

func (a *BadgerLogrusAdapter) Debugf(format string, args ...any) {
	a.entry.Debugf(format, args...)
}
