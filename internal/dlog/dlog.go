// Package dlog is the module's logging entry point: a thin wrapper over
// logrus giving every package a package-scoped logger with consistent
// field conventions, following an fs/log level-and-fields style.
package dlog

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu   sync.Mutex
	base = newBase()
)

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel sets the process-wide minimum log level by name (panic, fatal,
// error, warn, info, debug, trace).
func SetLevel(name string) error {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return err
	}
	mu.Lock()
	base.SetLevel(lvl)
	mu.Unlock()
	return nil
}

// For returns a logger scoped to component, so each subsystem logs under
// its own name.
func For(component string) *logrus.Entry {
	mu.Lock()
	defer mu.Unlock()
	return base.WithField("component", component)
}
