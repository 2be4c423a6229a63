package log

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSetLevel(t *testing.T) {
	defer SetLevel("INFO")

	cases := map[string]logrus.Level{
		"DEBUG":   logrus.DebugLevel,
		"warn":    logrus.WarnLevel,
		"ERROR":   logrus.ErrorLevel,
		"":        logrus.InfoLevel,
		"verbose": logrus.InfoLevel,
	}
	for name, want := range cases {
		SetLevel(name)
		assert.Equal(t, want, GetLogger().GetLevel(), name)
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	out := GetLogger().Out
	GetLogger().SetOutput(&buf)
	defer GetLogger().SetOutput(out)

	Component("queue").Infof("job %s done", "j1")
	assert.Contains(t, buf.String(), "component=queue")
	assert.Contains(t, buf.String(), "job j1 done")
}
