package sim

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// Transport is a simulated UART. Bytes sent by the host are queued for the
// device; bytes written by the device go to out, or are captured when out
// is nil.
type Transport struct {
	mu       sync.Mutex
	in       []byte
	out      io.Writer
	captured bytes.Buffer
}

// NewTransport creates a transport writing device output to out.
func NewTransport(out io.Writer) *Transport {
	return &Transport{out: out}
}

// Send queues host bytes for the device.
func (t *Transport) Send(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.in = append(t.in, s...)
}

// Buffered returns the number of bytes queued for the device.
func (t *Transport) Buffered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.in)
}

// ReadByte pops one queued byte.
func (t *Transport) ReadByte() (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.in) == 0 {
		return 0, io.EOF
	}
	b := t.in[0]
	t.in = t.in[1:]
	return b, nil
}

// Write receives device output.
func (t *Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	out := t.out
	if out == nil {
		n, err := t.captured.Write(p)
		t.mu.Unlock()
		return n, err
	}
	t.mu.Unlock()
	return out.Write(p)
}

// Output returns the captured device output.
func (t *Transport) Output() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.captured.String()
}

// Lines returns the captured device output split into lines without CRLF.
func (t *Transport) Lines() []string {
	out := strings.TrimSuffix(t.Output(), "\r\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\r\n")
}

// Reset discards the captured output.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.captured.Reset()
}

// HostWriter returns an io.Writer that queues host bytes for the device.
func (t *Transport) HostWriter() io.Writer {
	return hostWriter{t}
}

type hostWriter struct{ t *Transport }

func (w hostWriter) Write(p []byte) (int, error) {
	w.t.Send(string(p))
	return len(p), nil
}
