package muxlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/itohio/muxscan/pkg/telemetry"
)

// TestMock_GracefulShutdown tests that Close terminates the stream with EOF
// and closes the messages channel.
func TestMock_GracefulShutdown(t *testing.T) {
	mock := testMock(0, true)
	err := mock.Connect()
	assert.NoError(t, err)

	messages := mock.Messages()

	received := 0
	var last Message
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range messages {
			last = msg
			if msg.Kind == telemetry.KindTelemetry {
				received++
				if received == 3 {
					go mock.Close()
				}
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Messages channel did not close within timeout")
	}

	assert.GreaterOrEqual(t, received, 3, "Should receive telemetry before channel closes")
	assert.Equal(t, telemetry.KindEOF, last.Kind, "Stream should end with EOF")
	assert.False(t, mock.IsConnected())

	_, ok := <-messages
	assert.False(t, ok, "Channel should be closed")
}

// TestMock_SelfTerminates tests that a bounded scan ends with EOF on its own
// and Close still completes afterwards.
func TestMock_SelfTerminates(t *testing.T) {
	mock := testMock(2, true)
	assert.NoError(t, mock.Connect())

	telemetryLines := 0
	timeout := time.After(5 * time.Second)
loop:
	for {
		select {
		case msg := <-mock.Messages():
			switch msg.Kind {
			case telemetry.KindTelemetry:
				telemetryLines++
			case telemetry.KindEOF:
				break loop
			}
		case <-timeout:
			t.Fatal("no EOF within timeout")
		}
	}
	assert.Equal(t, 128, telemetryLines)

	closed := make(chan struct{})
	go func() {
		mock.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked after EOF")
	}
}
