package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"sigs.k8s.io/yaml"

	"toolfleet/internal/api"
)

// Printer renders API objects in the selected format.
type Printer struct {
	out       io.Writer
	format    OutputFormat
	noHeaders bool
	color     bool
	now       func() time.Time
}

// NewPrinter creates a printer writing to out.
func NewPrinter(out io.Writer, format OutputFormat, noHeaders bool) *Printer {
	return &Printer{
		out:       out,
		format:    format,
		noHeaders: noHeaders,
		now:       time.Now,
	}
}

// WithColor enables colored state columns in tables.
func (p *Printer) WithColor(enabled bool) *Printer {
	p.color = enabled
	return p
}

// Format returns the output format of the printer.
func (p *Printer) Format() OutputFormat {
	return p.format
}

// PrintStructured writes v as JSON or YAML. It reports false for table
// formats so the caller can render a table instead.
func (p *Printer) PrintStructured(v interface{}) (bool, error) {
	switch p.format {
	case OutputFormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, fmt.Errorf("encoding json: %w", err)
		}
		_, err = fmt.Fprintln(p.out, string(data))
		return true, err
	case OutputFormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return true, fmt.Errorf("encoding yaml: %w", err)
		}
		_, err = p.out.Write(data)
		return true, err
	default:
		return false, nil
	}
}

// newTable returns a borderless, kubectl-like table.
func (p *Printer) newTable(headers ...interface{}) table.Writer {
	t := table.NewWriter()

	style := table.StyleLight
	style.Options = table.Options{
		DrawBorder:      false,
		SeparateColumns: false,
		SeparateHeader:  false,
		SeparateRows:    false,
	}
	style.Box.PaddingLeft = ""
	style.Box.PaddingRight = "   "
	style.Format.Header = text.FormatUpper
	t.SetStyle(style)

	if !p.noHeaders {
		t.AppendHeader(table.Row(headers))
	}
	return t
}

func (p *Printer) render(t table.Writer) {
	for _, line := range strings.Split(t.Render(), "\n") {
		fmt.Fprintln(p.out, strings.TrimRight(line, " "))
	}
}

// PrintWorkers prints a worker list.
func (p *Printer) PrintWorkers(infos []api.WorkerInfo) error {
	if ok, err := p.PrintStructured(infos); ok {
		return err
	}
	if len(infos) == 0 {
		_, err := fmt.Fprintln(p.out, "No workers found")
		return err
	}

	sorted := append([]api.WorkerInfo(nil), infos...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Category != sorted[j].Category {
			return sorted[i].Category < sorted[j].Category
		}
		return sorted[i].Name < sorted[j].Name
	})

	wide := p.format == OutputFormatWide
	headers := []interface{}{"Name", "Category", "State", "Port", "Restarts", "Requests", "Avg Latency", "Age"}
	if wide {
		headers = append(headers, "PID", "Protocol", "Failures", "Last Error")
	}
	t := p.newTable(headers...)
	for _, w := range sorted {
		row := table.Row{
			w.Name,
			w.Category,
			p.state(w.State, w.Fatal),
			portString(w.Port),
			w.RestartCount,
			w.Stats.RequestsRouted,
			latencyString(w.Stats.AvgLatencyMs, w.Stats.RequestsRouted),
			p.age(w.StateChangedAt),
		}
		if wide {
			row = append(row, pidString(w.PID), w.Protocol, w.ConsecutiveFailures, truncate(w.LastError, 60))
		}
		t.AppendRow(row)
	}
	p.render(t)
	return nil
}

// PrintWorker prints a single worker with its recent output.
func (p *Printer) PrintWorker(d *api.WorkerDetail) error {
	if ok, err := p.PrintStructured(d); ok {
		return err
	}

	t := p.newTable("Field", "Value")
	t.AppendRows([]table.Row{
		{"Name", d.Name},
		{"Category", d.Category},
		{"Protocol", d.Protocol},
		{"State", p.state(d.State, d.Fatal)},
		{"PID", pidString(d.PID)},
		{"Port", portString(d.Port)},
		{"Restarts", d.RestartCount},
		{"Probe Failures", d.ConsecutiveFailures},
		{"Requests", fmt.Sprintf("%d (%d ok, %d failed)", d.Stats.RequestsRouted, d.Stats.Succeeded, d.Stats.Failed)},
		{"Avg Latency", latencyString(d.Stats.AvgLatencyMs, d.Stats.RequestsRouted)},
		{"State Age", p.age(d.StateChangedAt)},
	})
	if d.LastHealthyAt != nil {
		t.AppendRow(table.Row{"Last Healthy", p.age(*d.LastHealthyAt) + " ago"})
	}
	if d.LastError != "" {
		t.AppendRow(table.Row{"Last Error", d.LastError})
	}
	p.render(t)

	if len(d.RecentOutput) > 0 {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, "Recent output:")
		for _, line := range d.RecentOutput {
			fmt.Fprintf(p.out, "  %s\n", line)
		}
	}
	return nil
}

// PrintHealth prints the aggregate fleet health.
func (p *Printer) PrintHealth(fh api.FleetHealth) error {
	if ok, err := p.PrintStructured(fh); ok {
		return err
	}

	status := string(fh.Status)
	if p.color {
		switch fh.Status {
		case api.FleetHealthy:
			status = text.FgGreen.Sprint(status)
		case api.FleetDegraded:
			status = text.FgYellow.Sprint(status)
		default:
			status = text.FgRed.Sprint(status)
		}
	}
	fmt.Fprintf(p.out, "Fleet %s: %d/%d workers running (%.0f%%)\n",
		status, fh.Running, fh.NonStopped, fh.Ratio*100)

	t := p.newTable("Pending", "Starting", "Running", "Unhealthy", "Crashed", "Stopped")
	t.AppendRow(table.Row{fh.Pending, fh.Starting, fh.Running, fh.Unhealthy, fh.Crashed, fh.Stopped})
	p.render(t)

	if len(fh.Fatal) > 0 {
		fmt.Fprintln(p.out, FormatWarning("Parked after crash loop: "+strings.Join(fh.Fatal, ", ")))
	}
	return nil
}

// PrintTools prints a tool list.
func (p *Printer) PrintTools(list *api.ToolList) error {
	if ok, err := p.PrintStructured(list); ok {
		return err
	}
	if len(list.Tools) == 0 {
		_, err := fmt.Fprintf(p.out, "Worker %s exposes no tools\n", list.Worker)
		return err
	}

	headers := []interface{}{"Name", "Description"}
	wide := p.format == OutputFormatWide
	if wide {
		headers = append(headers, "Input Schema")
	}
	t := p.newTable(headers...)
	for _, tool := range list.Tools {
		desc := tool.Description
		if !wide {
			desc = truncate(firstLine(desc), 70)
		}
		row := table.Row{tool.Name, desc}
		if wide {
			row = append(row, string(tool.InputSchema))
		}
		t.AppendRow(row)
	}
	p.render(t)
	return nil
}

// PrintInvocation prints an invocation result. In table mode only the tool
// result is printed, indented when it is JSON.
func (p *Printer) PrintInvocation(resp *api.InvocationResponse) error {
	if ok, err := p.PrintStructured(resp); ok {
		return err
	}

	if p.format == OutputFormatWide {
		fmt.Fprintf(p.out, "worker=%s attempts=%d duration=%dms request=%s\n",
			resp.Metadata.WorkerName, resp.Metadata.Attempts, resp.Metadata.DurationMs, resp.Metadata.RequestID)
	}
	if len(resp.Result) == 0 {
		return nil
	}

	var v interface{}
	if err := json.Unmarshal(resp.Result, &v); err != nil {
		_, err = fmt.Fprintln(p.out, string(resp.Result))
		return err
	}
	if s, ok := v.(string); ok {
		_, err := fmt.Fprintln(p.out, s)
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(p.out, string(data))
	return err
}

// PrintAction prints the outcome of a lifecycle action.
func (p *Printer) PrintAction(res *api.ActionResult) error {
	if ok, err := p.PrintStructured(res); ok {
		return err
	}
	_, err := fmt.Fprintln(p.out, FormatSuccess(fmt.Sprintf("%s %s (now %s)", actionVerb(res.Action), res.Worker, res.State)))
	return err
}

func actionVerb(action string) string {
	switch action {
	case "start":
		return "Started"
	case "stop":
		return "Stopped"
	case "restart":
		return "Restarted"
	default:
		return action
	}
}

func (p *Printer) state(s api.WorkerState, fatal bool) string {
	label := string(s)
	if fatal {
		label += " (crash loop)"
	}
	if !p.color {
		return label
	}
	switch s {
	case api.StateRunning:
		return text.FgGreen.Sprint(label)
	case api.StateStarting, api.StatePending:
		return text.FgCyan.Sprint(label)
	case api.StateUnhealthy:
		return text.FgYellow.Sprint(label)
	case api.StateCrashed:
		return text.FgRed.Sprint(label)
	default:
		return text.FgHiBlack.Sprint(label)
	}
}

func (p *Printer) age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return HumanDuration(p.now().Sub(t))
}

// HumanDuration formats d the way kubectl prints ages.
func HumanDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return strconv.Itoa(int(d.Seconds())) + "s"
	case d < time.Hour:
		return strconv.Itoa(int(d.Minutes())) + "m"
	case d < 48*time.Hour:
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m == 0 {
			return strconv.Itoa(h) + "h"
		}
		return fmt.Sprintf("%dh%dm", h, m)
	default:
		return strconv.Itoa(int(d.Hours()/24)) + "d"
	}
}

func portString(port int) string {
	if port == 0 {
		return "-"
	}
	return strconv.Itoa(port)
}

func pidString(pid int) string {
	if pid == 0 {
		return "-"
	}
	return strconv.Itoa(pid)
}

func latencyString(ms float64, requests int64) string {
	if requests == 0 {
		return "-"
	}
	return strconv.FormatFloat(ms, 'f', 1, 64) + "ms"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
