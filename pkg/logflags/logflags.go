package logflags

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var unwind = false
var index = false
var image = false
var cli = false

var logOut io.WriteCloser

func makeLogger(flag bool, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(flag, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = DefaultFormatter()
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.ErrorLevel
	}
	return &logrusLogger{logger}
}

// Unwind returns true if the frame walker should log every state
// transition and failure.
func Unwind() bool {
	return unwind
}

// UnwindLogger returns a logger for the EHABI frame walker.
func UnwindLogger() Logger {
	return makeLogger(unwind, Fields{"layer": "unwind"})
}

// Index returns true if unwind index construction and lookups should be
// logged.
func Index() bool {
	return index
}

// IndexLogger returns a logger for the unwind index.
func IndexLogger() Logger {
	return makeLogger(index, Fields{"layer": "unwind", "kind": "index"})
}

// Image returns true if the ELF image loader should log.
func Image() bool {
	return image
}

// ImageLogger returns a logger for the ELF image loader.
func ImageLogger() Logger {
	return makeLogger(image, Fields{"layer": "image"})
}

// CLI returns true if the command line front end should log.
func CLI() bool {
	return cli
}

// CLILogger returns a logger for the command line front end.
func CLILogger() Logger {
	return makeLogger(cli, Fields{"layer": "cli"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "armbt-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %w", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logOut != nil {
		log.SetOutput(logOut)
	}
	if logstr == "" {
		logstr = "unwind"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "unwind":
			unwind = true
		case "index":
			index = true
		case "image":
			image = true
		case "cli":
			cli = true
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

// DefaultFormatter provides a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
func DefaultFormatter() logrus.Formatter {
	return textFormatterInstance
}

type textFormatter struct {
}

var textFormatterInstance = &textFormatter{}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", entry.Time.Format("2006-01-02T15:04:05Z07:00"), entry.Level.String())
	for k, v := range entry.Data {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	fmt.Fprintf(&b, " %s\n", entry.Message)
	return []byte(b.String()), nil
}
