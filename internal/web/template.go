package web

import (
	"fmt"
	"html/template"
	"io"
	"sort"
	"time"

	"github.com/sweeney/geyser-sim/internal/status"
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
	"stamp": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
	"phaseClass": func(p status.Phase) string {
		switch p {
		case status.PhaseActive:
			return "on"
		case status.PhaseTerminated:
			return "off"
		default:
			return "unknown"
		}
	},
	"inputs": formatInputs,
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Geyser Simulation Manager</title>
<style>
body { font-family: monospace; max-width: 900px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Geyser Simulation Manager</h1>

<h2>Master</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MasterConnected}}connected{{else}}disconnected{{end}}">{{if .MasterConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Telemetry</th><td>{{.Config.Store}}</td></tr>
</table>

<h2>Sessions ({{.Active}} active)</h2>
{{if .Sessions}}<table>
<tr><th>UID</th><th>Name</th><th>Broker</th><th>State</th><th>Last heartbeat</th><th>Inputs</th></tr>
{{range .Sessions}}<tr><td>{{.UID}}</td><td>{{.Name}}</td><td>{{.Broker}}</td><td class="{{phaseClass .Phase}}">{{.Phase}}</td><td>{{stamp .LastHeartbeat}}</td><td>{{inputs .Inputs}}</td></tr>
{{end}}</table>{{else}}<p>No tenants registered.</p>{{end}}

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Heartbeat</th><td>{{.Config.HeartbeatMs}}ms</td></tr>
<tr><th>Tenant list</th><td>{{.Config.TenantList}}</td></tr>
<tr><th>Duplicate add</th><td>{{.Config.DuplicatePolicy}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">Metrics</a></p>
</body>
</html>
`

// formatInputs renders inputs as "Name=value" pairs in name order, skipping
// unset ones.
func formatInputs(in map[string]any) string {
	names := make([]string, 0, len(in))
	for name, v := range in {
		if v != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := ""
	for i, name := range names {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%v", name, in[name])
	}
	return out
}

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has methods but the template needs fields.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Active int
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Active:   snap.Count(status.PhaseActive),
	}
	return indexTmpl.Execute(w, data)
}
