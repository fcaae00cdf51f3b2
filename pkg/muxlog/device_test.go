package muxlog

import (
	"testing"

	"github.com/ansel1/merry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	dev := New("/dev/ttyACM0", 115200, 100)
	assert.NotNil(t, dev)
	assert.Equal(t, "/dev/ttyACM0", dev.port)
	assert.Equal(t, 115200, dev.baudRate)
	assert.Equal(t, 100, dev.bufSize)
	assert.NotNil(t, dev.messages)
	assert.False(t, dev.IsConnected())
}

func TestNew_Defaults(t *testing.T) {
	dev := New("/dev/ttyACM0", 0, 0)
	assert.Equal(t, DefaultBaudRate, dev.baudRate)
	assert.Equal(t, DefaultBufferSize, dev.bufSize)
	assert.Equal(t, DefaultBufferSize, cap(dev.messages))
}

func TestSerial_SendNotConnected(t *testing.T) {
	dev := New("/dev/ttyACM0", 0, 0)

	err := Start(dev)
	assert.Error(t, err)
	assert.True(t, merry.Is(err, ErrNotConnected))
}

func TestSerial_CloseNotConnected(t *testing.T) {
	dev := New("/dev/ttyACM0", 0, 0)
	assert.NoError(t, dev.Close())
	assert.NoError(t, dev.Close())

	_, ok := <-dev.Messages()
	assert.False(t, ok)
}

func TestSerial_ConnectAfterClose(t *testing.T) {
	dev := New("/dev/does-not-exist-muxscan", 0, 0)
	require.NoError(t, dev.Close())

	err := dev.Connect()
	assert.True(t, merry.Is(err, ErrClosed))
	assert.False(t, merry.Is(err, ErrAlreadyConnected))
	assert.False(t, dev.IsConnected())
}

func TestSerial_ConnectMissingPort(t *testing.T) {
	dev := New("/dev/does-not-exist-muxscan", 0, 0)
	err := dev.Connect()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open serial port")
	assert.False(t, dev.IsConnected())
}
