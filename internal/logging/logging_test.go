package logger

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFollowsFlags(t *testing.T) {
	assert.Equal(t, "warn", Logger{}.Level())
	assert.Equal(t, "info", Logger{Verbose: true}.Level())
	assert.Equal(t, "debug", Logger{Verbose: true, Debug: true}.Level())
}

func TestInitLog(t *testing.T) {
	level, out, formatter := log.GetLevel(), log.StandardLogger().Out, log.StandardLogger().Formatter
	t.Cleanup(func() {
		log.SetLevel(level)
		log.SetOutput(out)
		log.SetFormatter(formatter)
	})

	require.Error(t, InitLog("loud", ""))
	require.NoError(t, InitLog("debug", filepath.Join(t.TempDir(), "liftsocial.log")))
	assert.Equal(t, log.DebugLevel, log.GetLevel())
}

func TestContextFormatterAddsUser(t *testing.T) {
	var buf bytes.Buffer
	l := log.New()
	l.SetOutput(&buf)
	l.SetFormatter(&ContextFormatter{TextFormatter: log.TextFormatter{DisableColors: true}})

	l.WithContext(WithUser(context.Background(), "alice")).Info("hello")
	assert.Contains(t, buf.String(), "userID=alice")
}

func TestErrorfAndReturnWraps(t *testing.T) {
	base := errors.New("disk full")
	err := Logger{}.ErrorfAndReturn("saving identity: %w", base)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "saving identity: disk full", err.Error())
}
