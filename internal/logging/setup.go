package logger

import (
	"context"
	"io"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type contextKey string

// UserIDKey carries the acting user id through a context.
const UserIDKey contextKey = "userID"

// WithUser returns ctx tagged with the acting user id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// InitLog parses and sets the logrus level. A path other than "" or
// "console" sends library logs to a rotated file.
func InitLog(logLevel string, logPath string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Errorf("failed parsing log-level %s: %s", logLevel, err)
		return err
	}

	if logPath != "" && logPath != "console" {
		lumberjackLogger := &lumberjack.Logger{
			Filename:   filepath.ToSlash(logPath),
			MaxSize:    5, // MB
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}
		log.SetOutput(io.Writer(lumberjackLogger))
	}

	log.SetFormatter(&ContextFormatter{})
	log.SetLevel(level)
	return nil
}

// ContextFormatter adds the acting user id from the entry context.
type ContextFormatter struct {
	log.TextFormatter
}

func (f *ContextFormatter) Format(entry *log.Entry) ([]byte, error) {
	if entry.Context != nil {
		if userID, ok := entry.Context.Value(UserIDKey).(string); ok && userID != "" {
			entry.Data["userID"] = userID
		}
	}
	return f.TextFormatter.Format(entry)
}
