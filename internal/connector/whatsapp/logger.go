package whatsapp

import (
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// SlogLogger adapts slog to whatsmeow's printf-style logger so protocol
// logs land in the same sink as the rest of the process.
type SlogLogger struct {
	l *slog.Logger
}

// NewSlogLogger returns a waLog.Logger writing to l under the given module.
func NewSlogLogger(l *slog.Logger, module string) waLog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return SlogLogger{l: l.With("module", module)}
}

func (s SlogLogger) Debugf(msg string, args ...interface{}) { s.l.Debug(fmt.Sprintf(msg, args...)) }
func (s SlogLogger) Infof(msg string, args ...interface{})  { s.l.Info(fmt.Sprintf(msg, args...)) }
func (s SlogLogger) Warnf(msg string, args ...interface{})  { s.l.Warn(fmt.Sprintf(msg, args...)) }
func (s SlogLogger) Errorf(msg string, args ...interface{}) { s.l.Error(fmt.Sprintf(msg, args...)) }

func (s SlogLogger) Sub(module string) waLog.Logger {
	return SlogLogger{l: s.l.With("submodule", module)}
}
