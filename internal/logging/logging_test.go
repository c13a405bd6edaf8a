package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLevel(t *testing.T) {
	require.NoError(t, Init("debug", "", false))
	assert.Equal(t, logrus.DebugLevel, Get().GetLevel())

	require.NoError(t, Init("nonsense", "", false))
	assert.Equal(t, logrus.InfoLevel, Get().GetLevel())
}

func TestInitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "saxpy.log")
	require.NoError(t, Init("info", path, false))

	Infof("dispatched %d groups", 16)
	Debugf("hidden at info level")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "dispatched 16 groups")
	assert.NotContains(t, string(data), "hidden")
}

func TestSetOutput(t *testing.T) {
	require.NoError(t, Init("warn", "", false))
	var buf bytes.Buffer
	SetOutput(&buf)

	Infof("quiet")
	Warnf("device %s lost", "host")
	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "device host lost")
}
