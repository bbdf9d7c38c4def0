package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/irrigation-controller/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"mmss": func(sec uint32) string {
		return fmt.Sprintf("%d:%02d", sec/60, sec%60)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="10">
<title>Irrigation Controller</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Irrigation Controller</h1>

<h2>Now</h2>
<table>
<tr><th>Activity</th><td id="description">{{.Progress.Description}}</td></tr>
{{if .Progress.TotalSeconds}}<tr><th>{{if .Progress.IsDelay}}Delay{{else}}Zone{{end}} time</th><td>{{mmss .Progress.ElapsedSeconds}} / {{mmss .Progress.TotalSeconds}} ({{mmss .Progress.RemainingSeconds}} left)</td></tr>{{end}}
<tr><th>Pump</th><td class="{{if .Pump}}on{{else}}off{{end}}">{{if .Pump}}ON{{else}}OFF{{end}}</td></tr>
{{if .HasCurrent}}<tr><th>Pump current</th><td>{{printf "%.2f" .Current}} A</td></tr>{{end}}
</table>

<h2>Zones</h2>
<table>
{{range .Zones}}<tr><th>{{.Number}}. {{.Name}}</th><td class="{{if .On}}on{{else}}off{{end}}">{{if .On}}ON{{else}}OFF{{end}}</td></tr>
{{end}}</table>

<h2>Cycles</h2>
<table>
<tr><th>Cycle</th><td>Start</td><td>Days</td><td>Minutes</td></tr>
{{range .Schedule.Cycles}}<tr><th>{{.Name}}{{if not .Enabled}} (disabled){{end}}</th><td>{{.StartTime}}</td><td>{{.DaysActive}}</td><td>{{.TotalMinutes}}</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}: {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Runs started</th><td>{{.Counts.RunsStarted}}</td></tr>
<tr><th>Runs completed</th><td>{{.Counts.RunsCompleted}}</td></tr>
<tr><th>Runs stopped</th><td>{{.Counts.RunsStopped}}</td></tr>
<tr><th>Scheduled runs skipped</th><td>{{.Counts.ScheduledSkipped}}</td></tr>
<tr><th>Actuator faults</th><td>{{.Counts.ActuatorFaults}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Timezone</th><td>{{.Config.Timezone}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><button id="stop" type="button">Stop all</button></p>
<p><a href="/api/status">JSON</a> | <a href="/api/cycles">Cycles</a> | <a href="/api/history">History</a> | <a href="/metrics">Metrics</a></p>
<script>
document.getElementById("stop").addEventListener("click", function() {
  fetch("/api/manual", {method: "POST", headers: {"Content-Type": "application/json"}, body: JSON.stringify({action: "stop_all"})})
    .then(function() { location.reload(); });
});
</script>
</body>
</html>
`

type zoneRow struct {
	Number int
	Name   string
	On     bool
}

func renderHTML(w io.Writer, snap status.Snapshot) error {
	zones := make([]zoneRow, snap.Schedule.ZoneCount())
	for z := range zones {
		zones[z] = zoneRow{Number: z + 1, Name: snap.Schedule.ZoneName(z), On: snap.ZoneOn(z)}
	}
	last, ok := snap.LastCurrent()

	// Snapshot has methods but the template needs plain fields.
	data := struct {
		status.Snapshot
		Uptime     time.Duration
		Pump       bool
		Zones      []zoneRow
		HasCurrent bool
		Current    float64
	}{
		Snapshot:   snap,
		Uptime:     snap.Uptime(),
		Pump:       snap.Pump(),
		Zones:      zones,
		HasCurrent: ok,
		Current:    last.Current,
	}
	return indexTmpl.Execute(w, data)
}
