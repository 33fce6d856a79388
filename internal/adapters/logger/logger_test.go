package logger_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"go.trai.ch/twoliter/internal/adapters/logger"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New()
	l.SetOutput(&buf)

	l.Info("resolving project references")
	l.Warn("metadata cache is cold")
	l.Error(errors.New("boom"))

	out := buf.String()
	for _, want := range []string{
		"level=INFO", "resolving project references",
		"level=WARN", "metadata cache is cold",
		"level=ERROR", "boom",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}
