package configuration

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Verbosity levels accepted by InitLogging. Zero silences logging entirely;
// values above VerbosityTrace clamp to trace.
const (
	VerbosityOff = iota
	VerbosityError
	VerbosityWarn
	VerbosityInfo
	VerbosityDebug
	VerbosityTrace
)

// memoryBuffer is the writer behind the "buffer" sink. Fetching drains it.
type memoryBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *memoryBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *memoryBuffer) fetch() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.buf.String()
	b.buf.Reset()
	return out
}

var logBuffer = &memoryBuffer{}

// InitLogging configures the global logger from a numeric verbosity and a
// list of sinks. Supported sinks are "stdout", "stderr", "buffer" and
// "file <path>"; every sink receives every entry.
func InitLogging(verbosity int, sinks []string) error {
	if verbosity <= VerbosityOff {
		log.SetOutput(io.Discard)
		log.SetLevel(log.PanicLevel)
		return nil
	}
	log.SetLevel(levelFor(verbosity))

	if len(sinks) == 0 {
		log.SetOutput(os.Stdout)
		return nil
	}

	writers := make([]io.Writer, 0, len(sinks))
	for _, sink := range sinks {
		writer, err := sinkWriter(sink)
		if err != nil {
			return err
		}
		writers = append(writers, writer)
	}
	if len(writers) == 1 {
		log.SetOutput(writers[0])
		return nil
	}
	log.SetOutput(io.MultiWriter(writers...))
	return nil
}

func levelFor(verbosity int) log.Level {
	switch verbosity {
	case VerbosityError:
		return log.ErrorLevel
	case VerbosityWarn:
		return log.WarnLevel
	case VerbosityInfo:
		return log.InfoLevel
	case VerbosityDebug:
		return log.DebugLevel
	}
	return log.TraceLevel
}

func sinkWriter(sink string) (io.Writer, error) {
	sink = strings.TrimSpace(sink)
	switch {
	case sink == "stdout":
		return os.Stdout, nil
	case sink == "stderr":
		return os.Stderr, nil
	case sink == "buffer":
		return logBuffer, nil
	case sink == "file" || strings.HasPrefix(sink, "file "):
		path := strings.TrimSpace(strings.TrimPrefix(sink, "file"))
		if path == "" {
			return nil, errors.New("file log sink requires a path")
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to open log sink %q", path)
		}
		return f, nil
	}
	return nil, errors.Errorf("unknown log sink %q", sink)
}

// FetchLogBuffer drains and returns everything the buffer sink captured
// since the previous fetch.
func FetchLogBuffer() string {
	return logBuffer.fetch()
}
