package host

import (
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

type logEntry struct {
	script  string
	message string
}

// LogSink forwards script log lines to the logger from its own goroutine.
// Logging never blocks a script : when the queue is full the line is dropped.
type LogSink struct {
	logger  *log.Logger
	entries chan logEntry
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	done    chan struct{}
}

func NewLogSink(logger *log.Logger, size int) *LogSink {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if size <= 0 {
		size = DefaultLogQueueSize
	}
	sink := &LogSink{
		logger:  logger,
		entries: make(chan logEntry, size),
		done:    make(chan struct{}),
	}
	go sink.drain()
	return sink
}

func (s *LogSink) drain() {
	defer close(s.done)
	for entry := range s.entries {
		s.logger.WithField("script", entry.script).Infof("[SCRIPT] %v", entry.message)
	}
}

// Queue a line, returns false if it was dropped
func (s *LogSink) Log(script string, message string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return false
	}
	select {
	case s.entries <- logEntry{script: script, message: message}:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Number of lines dropped so far
func (s *LogSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Flush pending lines and stop
func (s *LogSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	close(s.entries)
	s.mu.Unlock()
	<-s.done
	if dropped := s.Dropped(); dropped > 0 {
		s.logger.Warnf("[SCRIPT] %d log lines were dropped", dropped)
	}
}
