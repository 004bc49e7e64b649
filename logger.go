package someip

import (
	"io"
	"io/ioutil"
	"log"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger interface should be implemented by the client
type Logger interface {
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Info(v ...interface{})
	Infof(format string, v ...interface{})
}

// NewLogger creates a new logger instance writing to w.
func NewLogger(w io.Writer) Logger {
	if w == nil {
		w = ioutil.Discard
	}
	return &logger{
		log0: log.New(w, "INFO: ", log.Lshortfile),
	}
}

// NewRotatingLogger creates a logger backed by a size-rotated file.
func NewRotatingLogger(path string) Logger {
	return NewLogger(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	})
}

type logger struct {
	log0 *log.Logger
}

func (l *logger) Debug(v ...interface{}) {
	l.log0.Println(v...)
}

func (l *logger) Debugf(format string, v ...interface{}) {
	l.log0.Printf(format, v...)
}

func (l *logger) Info(v ...interface{}) {
	l.log0.Println(v...)
}

func (l *logger) Infof(format string, v ...interface{}) {
	l.log0.Printf(format, v...)
}
