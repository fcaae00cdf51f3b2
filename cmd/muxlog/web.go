package main

import (
	"context"
	"encoding/json"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/ansel1/merry"

	"github.com/itohio/muxscan/pkg/monitor"
)

const (
	webReadHeaderTimeout = 5 * time.Second
	webShutdownTimeout   = 2 * time.Second
)

var livePage = template.Must(template.New("live").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="{{.Refresh}}">
<title>muxscan {{.Source}}</title>
<style>
body { font-family: Arial, sans-serif; color: #333; }
table { border-collapse: collapse; }
td, th { padding: 2px 8px; text-align: right; }
tr.open { color: #fff; background: #c0392b; }
tr.fault { color: #999; }
</style>
</head>
<body>
<h1>{{.Source}} pass {{.Pass}}</h1>
<p>Updated {{.Updated}}</p>
<h2>Open joints</h2>
{{if .Alerts}}<table>
<tr><th>Mux</th><th>Channel</th><th>Passes</th><th>From</th><th>To</th><th>Min V</th><th>Active</th></tr>
{{range .Alerts}}<tr{{if .Active}} class="open"{{end}}><td>{{.Mux}}</td><td>{{.Channel}}</td><td>{{.Passes}}</td><td>{{.StartPass}}</td><td>{{.EndPass}}</td><td>{{printf "%.4f" .MinVoltage}}</td><td>{{.Active}}</td></tr>
{{end}}</table>{{else}}<p>None</p>{{end}}
<h2>Channels</h2>
<table>
<tr><th>Mux</th><th>Channel</th><th>Pass</th><th>Voltage</th><th>Temperature</th><th>Below</th><th>Faults</th></tr>
{{range .Channels}}<tr{{if .Open}} class="open"{{else if not .Valid}} class="fault"{{end}}><td>{{.Mux}}</td><td>{{.Channel}}</td><td>{{.Pass}}</td><td>{{printf "%.4f" .Voltage}}</td><td>{{printf "%.1f" .Temperature}}</td><td>{{.Below}}</td><td>{{.Faults}}</td></tr>
{{end}}</table>
</body>
</html>
`))

// channelView is one row of the live table, 1-based like the wire format.
type channelView struct {
	Mux         int     `json:"mux"`
	Channel     int     `json:"channel"`
	Pass        int     `json:"pass"`
	Voltage     float64 `json:"voltage"`
	Temperature float64 `json:"temperature"`
	Valid       bool    `json:"valid"`
	Below       int     `json:"below"`
	Count       int     `json:"count"`
	Faults      int     `json:"faults"`
	Open        bool    `json:"open"`
}

type alertView struct {
	Mux        int       `json:"mux"`
	Channel    int       `json:"channel"`
	StartPass  int       `json:"start_pass"`
	EndPass    int       `json:"end_pass"`
	Passes     int       `json:"passes"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	MinVoltage float64   `json:"min_voltage"`
	Active     bool      `json:"active"`
}

type statusView struct {
	Source   string `json:"source"`
	Pass     int    `json:"pass"`
	Channels int    `json:"channels"`
	Faults   int    `json:"faults"`
	Open     int    `json:"open"`
}

// liveView serves a read-only snapshot of the monitor.
type liveView struct {
	monitor monitor.PassMonitor
	source  string
	refresh time.Duration
}

// newLiveView returns the handler of the live view. Only GET is routed.
func newLiveView(m monitor.PassMonitor, source string, refresh time.Duration) http.Handler {
	v := &liveView{monitor: m, source: source, refresh: refresh}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", v.page)
	mux.HandleFunc("GET /api/status", v.status)
	mux.HandleFunc("GET /api/table", v.table)
	mux.HandleFunc("GET /api/alerts", v.alerts)
	return mux
}

func (v *liveView) channels(alerts []monitor.Alert) []channelView {
	open := make(map[[2]int]bool)
	for _, a := range alerts {
		if a.Active {
			open[[2]int{a.Bank, a.Channel}] = true
		}
	}

	table := v.monitor.Table()
	rows := make([]channelView, len(table))
	for i, st := range table {
		r := st.Last
		rows[i] = channelView{
			Mux:         r.Bank + 1,
			Channel:     r.Channel + 1,
			Pass:        r.Pass,
			Voltage:     r.Voltage,
			Temperature: r.Temperature,
			Valid:       r.Valid,
			Below:       st.Below,
			Count:       st.Count,
			Faults:      st.Fault,
			Open:        open[[2]int{r.Bank, r.Channel}],
		}
	}
	return rows
}

func alertViews(alerts []monitor.Alert) []alertView {
	rows := make([]alertView, len(alerts))
	for i, a := range alerts {
		rows[i] = alertView{
			Mux:        a.Bank + 1,
			Channel:    a.Channel + 1,
			StartPass:  a.StartPass,
			EndPass:    a.EndPass,
			Passes:     a.Passes(),
			StartTime:  a.StartTime,
			EndTime:    a.EndTime,
			MinVoltage: a.MinVoltage,
			Active:     a.Active,
		}
	}
	return rows
}

func (v *liveView) page(w http.ResponseWriter, r *http.Request) {
	alerts := v.monitor.Alerts()
	data := struct {
		Source   string
		Pass     int
		Refresh  int
		Updated  string
		Channels []channelView
		Alerts   []alertView
	}{
		Source:   v.source,
		Pass:     v.monitor.Pass(),
		Refresh:  int(v.refresh / time.Second),
		Updated:  time.Now().Format(time.DateTime),
		Channels: v.channels(alerts),
		Alerts:   alertViews(alerts),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := livePage.Execute(w, data); err != nil {
		log.PrintErr("failed to render live view", "err", err)
	}
}

func (v *liveView) status(w http.ResponseWriter, r *http.Request) {
	st := statusView{Source: v.source, Pass: v.monitor.Pass()}
	for _, c := range v.monitor.Table() {
		st.Channels++
		st.Faults += c.Fault
	}
	for _, a := range v.monitor.Alerts() {
		if a.Active {
			st.Open++
		}
	}
	writeJSON(w, st)
}

func (v *liveView) table(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, v.channels(v.monitor.Alerts()))
}

func (v *liveView) alerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, alertViews(v.monitor.Alerts()))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.PrintErr("failed to write response", "err", err)
	}
}

// startLiveView listens on addr and serves h in the background.
func startLiveView(addr string, h http.Handler) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, merry.Prependf(err, "failed to listen on %s", addr)
	}

	srv := &http.Server{Handler: h, ReadHeaderTimeout: webReadHeaderTimeout}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.PrintErr("live view stopped", "err", err)
		}
	}()

	log.Info("live view", "addr", "http://"+ln.Addr().String())
	return srv, nil
}

func stopLiveView(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), webShutdownTimeout)
	defer cancel()
	return merry.Prepend(srv.Shutdown(ctx), "failed to stop live view")
}
