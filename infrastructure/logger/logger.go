package logger

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// backendLog is the logging backend used to create all subsystem loggers.
var backendLog = NewBackend()

var (
	loggersMutex sync.Mutex
	loggers      []*Logger
	loggersByTag = make(map[string]*Logger)
)

// RegisterSubSystem returns a Logger for the given subsystem tag, creating it
// if it was not registered yet. Loggers created by RegisterSubSystem respond
// to level changes made through SetLogLevels.
func RegisterSubSystem(subsystem string) *Logger {
	loggersMutex.Lock()
	defer loggersMutex.Unlock()
	logger, ok := loggersByTag[subsystem]
	if !ok {
		logger = backendLog.Logger(subsystem)
		loggersByTag[subsystem] = logger
		loggers = append(loggers, logger)
	}
	return logger
}

// InitLog attaches log file and error log file to the backend log and starts
// the backend's write goroutine.
func InitLog(logFile, errLogFile string) {
	err := backendLog.AddLogFile(logFile, LevelTrace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error adding log file %s as log rotator for level %s: %s", logFile, LevelTrace, err)
		os.Exit(1)
	}
	err = backendLog.AddLogFile(errLogFile, LevelWarn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error adding log file %s as log rotator for level %s: %s", errLogFile, LevelWarn, err)
		os.Exit(1)
	}
	err = backendLog.AddLogWriter(os.Stdout, LevelInfo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error adding stdout to the loggerfor level %s: %s", LevelInfo, err)
		os.Exit(1)
	}
	err = backendLog.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting the logger: %s ", err)
		os.Exit(1)
	}
}

// SetLogLevels sets the logging level for all registered subsystems. The
// levelStr argument is either a single level applied to every subsystem, or a
// comma-separated list of subsystem=level pairs.
func SetLogLevels(levelStr string) error {
	if !strings.Contains(levelStr, "=") {
		level, ok := LevelFromString(levelStr)
		if !ok {
			return errors.Errorf("invalid log level %s", levelStr)
		}
		loggersMutex.Lock()
		defer loggersMutex.Unlock()
		for _, logger := range loggers {
			logger.SetLevel(level)
		}
		return nil
	}

	for _, pair := range strings.Split(levelStr, ",") {
		fields := strings.Split(pair, "=")
		if len(fields) != 2 {
			return errors.Errorf("invalid subsystem=level pair %s", pair)
		}
		tag, levelText := strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1])
		level, ok := LevelFromString(levelText)
		if !ok {
			return errors.Errorf("invalid log level %s for subsystem %s", levelText, tag)
		}
		if !setLogLevel(tag, level) {
			return errors.Errorf("unknown subsystem %s", tag)
		}
	}
	return nil
}

func setLogLevel(subsystem string, level Level) bool {
	loggersMutex.Lock()
	defer loggersMutex.Unlock()
	logger, ok := loggersByTag[subsystem]
	if !ok {
		return false
	}
	logger.SetLevel(level)
	return true
}

// SupportedSubsystems returns a sorted-insertion-order list of the registered
// subsystem tags, for inclusion in usage text.
func SupportedSubsystems() []string {
	loggersMutex.Lock()
	defer loggersMutex.Unlock()
	subsystems := make([]string, 0, len(loggers))
	for _, logger := range loggers {
		subsystems = append(subsystems, logger.tag)
	}
	return subsystems
}

// Close shuts down the backend log and flushes all pending log writes.
func Close() {
	backendLog.Close()
}

type logEntry struct {
	log   []byte
	level Level
}

// Logger is a subsystem logger backed by a Backend. It is safe for concurrent
// use from multiple goroutines.
type Logger struct {
	lvl       Level // lvl must only be accessed atomically
	tag       string
	b         *Backend
	writeChan chan<- logEntry
}

// Trace formats a message using the default formats for its operands and
// writes it at level trace.
func (l *Logger) Trace(args ...interface{}) {
	l.write(LevelTrace, args...)
}

// Tracef formats a message according to a format specifier and writes it at
// level trace.
func (l *Logger) Tracef(format string, args ...interface{}) {
	l.writef(LevelTrace, format, args...)
}

// Debug formats a message using the default formats for its operands and
// writes it at level debug.
func (l *Logger) Debug(args ...interface{}) {
	l.write(LevelDebug, args...)
}

// Debugf formats a message according to a format specifier and writes it at
// level debug.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.writef(LevelDebug, format, args...)
}

// Info formats a message using the default formats for its operands and
// writes it at level info.
func (l *Logger) Info(args ...interface{}) {
	l.write(LevelInfo, args...)
}

// Infof formats a message according to a format specifier and writes it at
// level info.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.writef(LevelInfo, format, args...)
}

// Warn formats a message using the default formats for its operands and
// writes it at level warn.
func (l *Logger) Warn(args ...interface{}) {
	l.write(LevelWarn, args...)
}

// Warnf formats a message according to a format specifier and writes it at
// level warn.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.writef(LevelWarn, format, args...)
}

// Error formats a message using the default formats for its operands and
// writes it at level error.
func (l *Logger) Error(args ...interface{}) {
	l.write(LevelError, args...)
}

// Errorf formats a message according to a format specifier and writes it at
// level error.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.writef(LevelError, format, args...)
}

// Critical formats a message using the default formats for its operands and
// writes it at level critical.
func (l *Logger) Critical(args ...interface{}) {
	l.write(LevelCritical, args...)
}

// Criticalf formats a message according to a format specifier and writes it
// at level critical.
func (l *Logger) Criticalf(format string, args ...interface{}) {
	l.writef(LevelCritical, format, args...)
}

// Level returns the current logging level of the Logger.
func (l *Logger) Level() Level {
	return Level(atomic.LoadUint32((*uint32)(&l.lvl)))
}

// SetLevel changes the logging level of the Logger to the passed level.
func (l *Logger) SetLevel(level Level) {
	atomic.StoreUint32((*uint32)(&l.lvl), uint32(level))
}

func (l *Logger) write(logLevel Level, args ...interface{}) {
	if l.Level() > logLevel {
		return
	}
	l.print(logLevel, fmt.Sprint(args...))
}

func (l *Logger) writef(logLevel Level, format string, args ...interface{}) {
	if l.Level() > logLevel {
		return
	}
	l.print(logLevel, fmt.Sprintf(format, args...))
}

func (l *Logger) print(logLevel Level, message string) {
	buf := make([]byte, 0, normalLogSize+len(message))
	buf = append(buf, time.Now().Format("2006-01-02 15:04:05.000")...)
	buf = append(buf, " ["...)
	buf = append(buf, logLevel.String()...)
	buf = append(buf, "] "...)
	buf = append(buf, l.tag...)
	if l.b.flag&(LogFlagShortFile|LogFlagLongFile) != 0 {
		file, line := callsite(l.b.flag)
		buf = append(buf, ' ')
		buf = append(buf, file...)
		buf = append(buf, ':')
		buf = appendDecimal(buf, line)
	}
	buf = append(buf, ": "...)
	buf = append(buf, message...)
	if len(message) == 0 || message[len(message)-1] != '\n' {
		buf = append(buf, '\n')
	}
	l.writeChan <- logEntry{log: buf, level: logLevel}
}

// callsite returns the file name and line number of the logging callsite,
// walking past this package's own frames.
func callsite(flag uint32) (string, int) {
	// 0: callsite, 1: print, 2: write/writef, 3: Logger method, 4: caller
	_, file, line, ok := runtime.Caller(4)
	if !ok {
		return "???", 0
	}
	if flag&LogFlagShortFile != 0 {
		short := file
		for i := len(file) - 1; i > 0; i-- {
			if os.IsPathSeparator(file[i]) {
				short = file[i+1:]
				break
			}
		}
		file = short
	}
	return file, line
}

// appendDecimal appends a positive decimal integer to buf without allocating.
func appendDecimal(buf []byte, n int) []byte {
	if n < 0 {
		return append(buf, '0')
	}
	var digits [10]byte
	i := len(digits)
	for {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
		if n == 0 {
			break
		}
	}
	return append(buf, digits[i:]...)
}
