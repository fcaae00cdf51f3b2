package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/muxscan/pkg/config"
	"github.com/itohio/muxscan/pkg/monitor"
	"github.com/itohio/muxscan/pkg/sample"
)

func testMonitor(t *testing.T) *monitor.Monitor {
	t.Helper()
	m := monitor.New(config.Default().Monitor)

	ts := time.Unix(1700000000, 0)
	in := make(chan sample.Reading, 8)
	for pass := 1; pass <= 2; pass++ {
		in <- sample.Reading{Timestamp: ts, Pass: pass, Bank: 0, Channel: 0, Temperature: 27, Voltage: 1.2, Valid: true}
		in <- sample.Reading{Timestamp: ts, Pass: pass, Bank: 0, Channel: 4, Temperature: 27, Voltage: 0.002, Valid: true}
		in <- sample.Reading{Timestamp: ts, Pass: pass, Bank: 1, Channel: 31, Voltage: -1}
	}
	close(in)
	m.ProcessReadings(in)
	return m
}

func TestLiveView_Page(t *testing.T) {
	h := newLiveView(testMonitor(t), "mock", 3*time.Second)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, `content="3"`)
	assert.Contains(t, body, "mock pass 2")
	assert.Equal(t, 2, strings.Count(body, `class="open"`), "alert row and channel row")
	assert.Contains(t, body, `class="fault"`)
	assert.Contains(t, body, "0.0020")
}

func TestLiveView_API(t *testing.T) {
	h := newLiveView(testMonitor(t), "mock", 3*time.Second)

	get := func(path string, v interface{}) {
		t.Helper()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
	}

	var st statusView
	get("/api/status", &st)
	assert.Equal(t, statusView{Source: "mock", Pass: 2, Channels: 3, Faults: 2, Open: 1}, st)

	var table []channelView
	get("/api/table", &table)
	require.Len(t, table, 3)
	assert.Equal(t, 1, table[0].Mux)
	assert.Equal(t, 1, table[0].Channel)
	assert.False(t, table[0].Open)
	assert.Equal(t, 5, table[1].Channel)
	assert.True(t, table[1].Open)
	assert.Equal(t, 2, table[1].Below)
	assert.Equal(t, 2, table[2].Mux)
	assert.Equal(t, 32, table[2].Channel)
	assert.False(t, table[2].Valid)

	var alerts []alertView
	get("/api/alerts", &alerts)
	require.Len(t, alerts, 1)
	assert.Equal(t, 1, alerts[0].Mux)
	assert.Equal(t, 5, alerts[0].Channel)
	assert.Equal(t, 2, alerts[0].Passes)
	assert.True(t, alerts[0].Active)
}

func TestLiveView_ReadOnly(t *testing.T) {
	h := newLiveView(testMonitor(t), "mock", 3*time.Second)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"post page", http.MethodPost, "/", http.StatusMethodNotAllowed},
		{"delete alerts", http.MethodDelete, "/api/alerts", http.StatusMethodNotAllowed},
		{"unknown path", http.MethodGet, "/journal.sqlite", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestLiveView_StartStop(t *testing.T) {
	srv, err := startLiveView("127.0.0.1:0", newLiveView(testMonitor(t), "mock", time.Second))
	require.NoError(t, err)
	assert.NoError(t, stopLiveView(srv))

	_, err = startLiveView("no-port", http.NotFoundHandler())
	assert.Error(t, err)
}
