package logflags

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferWriter struct {
	bytes.Buffer
}

func (bw *bufferWriter) Close() error {
	return nil
}

func resetFlags() {
	unwind, index, image, cli = false, false, false, false
	logOut = nil
	loggerFactory = nil
}

func TestMakeLogger_usingLoggerFactory(t *testing.T) {
	defer resetFlags()
	logOut = &bufferWriter{}

	expectedLogger := &logrusLogger{}
	SetLoggerFactory(func(flag bool, fields Fields, out io.Writer) Logger {
		assert.True(t, flag)
		assert.Equal(t, Fields{"foo": "bar"}, fields)
		assert.Equal(t, logOut, out)
		return expectedLogger
	})

	actual := makeLogger(true, Fields{"foo": "bar"})
	require.Equal(t, expectedLogger, actual)
}

func TestMakeLogger_withFlagFalse(t *testing.T) {
	defer resetFlags()

	actual := makeLogger(false, Fields{"foo": "bar"})
	entry, ok := actual.(*logrusLogger)
	require.True(t, ok)
	assert.Equal(t, logrus.ErrorLevel, entry.Entry.Logger.Level)
	assert.Equal(t, logrus.Fields{"foo": "bar"}, entry.Entry.Data)
}

func TestMakeLogger_withFlagTrue(t *testing.T) {
	defer resetFlags()
	out := &bufferWriter{}
	logOut = out

	actual := makeLogger(true, Fields{"layer": "unwind"})
	actual.Debugf("pc %#x", 0x1000)

	entry := actual.(*logrusLogger)
	assert.Equal(t, logrus.DebugLevel, entry.Entry.Logger.Level)
	assert.Contains(t, out.String(), "layer=unwind pc 0x1000")

	out.Reset()
	actual.WithError(errors.New("boom")).Debugf("failed")
	assert.Contains(t, out.String(), "error=boom")
	assert.Contains(t, out.String(), "layer=unwind")
}

func TestSetup(t *testing.T) {
	defer resetFlags()

	require.Equal(t, errLogstrWithoutLog, Setup(false, "unwind", ""))
	require.NoError(t, Setup(false, "", ""))
	assert.False(t, Unwind())

	require.NoError(t, Setup(true, "", ""))
	assert.True(t, Unwind())
	assert.False(t, Index())

	require.NoError(t, Setup(true, "index,image,cli", ""))
	assert.True(t, Index())
	assert.True(t, Image())
	assert.True(t, CLI())
}
