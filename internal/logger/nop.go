package logger

// nopLogger discards all log entries. Used in tests and as a safe default.
type nopLogger struct{}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

func (nopLogger) Debug(string, ...Field) {}
func (nopLogger) Info(string, ...Field)  {}
func (nopLogger) Warn(string, ...Field)  {}
func (nopLogger) Error(string, ...Field) {}

func (n nopLogger) With(...Field) Logger { return n }

func (nopLogger) Sync() error { return nil }
