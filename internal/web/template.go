package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/homectl/internal/status"
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
	"stateOrUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>homectl {{.Config.Name}}</title>
<style>
body { font-family: monospace; max-width: 700px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.opened { color: green; font-weight: bold; }
.closed { color: #888; }
.unknown { color: orange; }
.active { color: green; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>homectl {{.Config.Name}}</h1>

<h2>Inputs</h2>
<table>
{{range $i, $s := .Inputs}}{{$st := stateOrUnknown (printf "%s" $s)}}<tr><th>bin_in {{$i}}</th><td class="{{if eq $st "OPENED"}}opened{{else if eq $st "CLOSED"}}closed{{else}}unknown{{end}}">{{$st}}</td></tr>
{{end}}<tr><th>Ready</th><td>{{if .InputsReady}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Modules</h2>
<table>
<tr><th>Module</th><td>Letter / slots</td></tr>
{{range .Modules}}<tr><th>{{.Name}}</th><td>{{.Letter}} / {{.FirstSlot}}+{{.Channels}}</td></tr>
{{end}}</table>

<h2>Active Slots</h2>
<table>
{{range .Slots}}{{if .Active}}<tr><th>slot {{.Slot}} ({{.Module}}{{.Channel}})</th><td class="active">timer {{.Timer}}</td></tr>
{{end}}{{end}}<tr><th>Free timers</th><td>{{.TimersFree}} of {{.Config.PoolSize}}</td></tr>
</table>

<h2>Commands</h2>
<table>
<tr><th>Received</th><td>{{.Counters.Received}}</td></tr>
<tr><th>Executed</th><td>{{.Counters.Executed}}</td></tr>
<tr><th>Rejected</th><td>{{.Counters.Rejected}}</td></tr>
<tr><th>Failed</th><td>{{.Counters.Failed}}</td></tr>
{{if .LastCommand}}<tr><th>Last</th><td>{{.LastCommand}}</td></tr>{{end}}
{{if .LastError}}<tr><th>Last error</th><td>{{.LastError}}</td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Session</th><td>{{.Session}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
