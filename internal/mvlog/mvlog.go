// Package mvlog holds a single package-level logrus logger that the
// translator and the driver log through, the way the retrieval pack's neo-go VM
// package threads a logrus.FieldLogger through its execution core instead
// of reaching for fmt.Println at each call site.
package mvlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = os.Stderr
	l.Formatter = &logrus.TextFormatter{DisableTimestamp: true}
	l.SetLevel(logrus.WarnLevel)
	return l
}

// SetVerbose raises the logger to debug level; wired to the driver's -v flag.
func SetVerbose(verbose bool) {
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}
}

// Opcode logs a single emitted or executed instruction with structured
// fields (component, function id, offset). Nothing in the module calls it.
func Opcode(component string, functionID int, offset int, opcode string) {
	log.WithFields(logrus.Fields{
		"component": component,
		"function":  functionID,
		"offset":    offset,
	}).Debugf("%s", opcode)
}

func Debugf(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	log.Errorf(format, args...)
}
