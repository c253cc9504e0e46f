package logging

import (
	"fmt"
	"io"
	"os"
)

// EarlyLog writes to stderr before the structured logger exists.
type EarlyLog struct {
	out io.Writer
}

func NewEarlyLog() *EarlyLog {
	return &EarlyLog{out: os.Stderr}
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	fmt.Fprintf(l.out, "ERROR: "+msg+"\n", args...)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	fmt.Fprintf(l.out, "WARN: "+msg+"\n", args...)
}

func (l *EarlyLog) Info(msg string, args ...interface{}) {
	fmt.Fprintf(l.out, "INFO: "+msg+"\n", args...)
}
