package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/uyen-nguyen-190304/GRH-verification/internal/errs"
	"github.com/uyen-nguyen-190304/GRH-verification/internal/verify"
)

// ErrorLogFile is the name of the failure log inside the output directory.
const ErrorLogFile = "errors.log"

// ErrorLog records every discriminant whose verification ended with an
// error, one logrus line each.
type ErrorLog struct {
	file   *os.File
	logger *logrus.Logger
}

// OpenErrorLog opens dir/errors.log for appending.
func OpenErrorLog(dir string) (*ErrorLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(dir, ErrorLogFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(file)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   true,
	})
	return &ErrorLog{file: file, logger: logger}, nil
}

// Record logs out if it carries an error; other outcomes are ignored.
func (l *ErrorLog) Record(out verify.Outcome) {
	if out.Err == nil {
		return
	}
	l.logger.WithFields(logrus.Fields{
		"d":      out.D,
		"n_used": out.NUsed,
		"state":  out.State.String(),
		"kind":   errs.Kind(out.Err),
		"reason": out.Err.Error(),
	}).Error("Verification failed")
}

func (l *ErrorLog) Close() error {
	return l.file.Close()
}
