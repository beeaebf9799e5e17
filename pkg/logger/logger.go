package logger

// Backend is implemented by logging sinks (console, file, ...).
type Backend interface {
	Debug(message string, keyvals ...any)
	Info(message string, keyvals ...any)
	Warn(message string, keyvals ...any)
	Error(message string, keyvals ...any)
	Fatal(message string, keyvals ...any)
}

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
	levelFatal
)

// Logger fans log calls out to all configured backends.
type Logger struct {
	backends []Backend
}

var singleton *Logger

// Init sets up the global logger with one or more backends.
// Logging before Init is a no-op.
func Init(backends ...Backend) {
	singleton = &Logger{
		backends: backends,
	}
}

func dispatch(lvl level, message string, keyvals ...any) {
	if singleton == nil {
		return
	}

	for _, backend := range singleton.backends {
		switch lvl {
		case levelDebug:
			backend.Debug(message, keyvals...)
		case levelInfo:
			backend.Info(message, keyvals...)
		case levelWarn:
			backend.Warn(message, keyvals...)
		case levelError:
			backend.Error(message, keyvals...)
		case levelFatal:
			backend.Fatal(message, keyvals...)
		}
	}
}

// Debug writes a message at DEBUG level to all configured backends.
func Debug(message string, keyvals ...any) {
	dispatch(levelDebug, message, keyvals...)
}

// Info writes a message at INFO level to all configured backends.
func Info(message string, keyvals ...any) {
	dispatch(levelInfo, message, keyvals...)
}

// Warn writes a message at WARN level to all configured backends.
func Warn(message string, keyvals ...any) {
	dispatch(levelWarn, message, keyvals...)
}

// Error writes a message at ERROR level to all configured backends.
func Error(message string, keyvals ...any) {
	dispatch(levelError, message, keyvals...)
}

// Fatal writes a message at FATAL level and terminates the program.
func Fatal(message string, keyvals ...any) {
	dispatch(levelFatal, message, keyvals...)
}
