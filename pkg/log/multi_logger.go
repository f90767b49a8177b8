package log

// MultiLogger sends each event to every logger it holds, in order.
type MultiLogger struct {
	loggers []Logger
}

// Tee combines loggers into one. Nil and NoopLogger entries are skipped.
// With nothing left it returns NoopLogger; with one logger it returns that
// logger unchanged.
func Tee(loggers ...Logger) Logger {
	kept := make([]Logger, 0, len(loggers))
	for _, l := range loggers {
		switch l.(type) {
		case nil, NoopLogger:
			continue
		}
		kept = append(kept, l)
	}
	switch len(kept) {
	case 0:
		return NoopLogger{}
	case 1:
		return kept[0]
	default:
		return &MultiLogger{loggers: kept}
	}
}

// Log implements Logger.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}
