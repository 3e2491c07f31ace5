package supervisor

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"toolfleet/internal/config"
)

// Environment variables every worker receives.
const (
	EnvWorkerName     = "TOOLFLEET_WORKER_NAME"
	EnvWorkerPort     = "TOOLFLEET_WORKER_PORT"
	EnvWorkerCategory = "TOOLFLEET_WORKER_CATEGORY"
	EnvWorkerHost     = "TOOLFLEET_WORKER_HOST"
	EnvPort           = "PORT"
)

// templateData is what launch templates can reference.
type templateData struct {
	Name     string
	Category string
	Host     string
	Port     int
}

// renderLaunchSpec expands the templated parts of a descriptor for a concrete port.
func renderLaunchSpec(d config.WorkerDescriptor, host string, port int) (LaunchSpec, error) {
	data := templateData{
		Name:     d.Name,
		Category: d.Category,
		Host:     host,
		Port:     port,
	}

	spec := LaunchSpec{
		Name:    d.Name,
		Command: d.Command,
	}

	for i, arg := range d.Args {
		rendered, err := renderTemplate(fmt.Sprintf("args[%d]", i), arg, data)
		if err != nil {
			return LaunchSpec{}, err
		}
		spec.Args = append(spec.Args, rendered)
	}

	dir, err := renderTemplate("workingDir", d.WorkingDir, data)
	if err != nil {
		return LaunchSpec{}, err
	}
	spec.Dir = dir

	env := os.Environ()
	keys := make([]string, 0, len(d.Env))
	for k := range d.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := renderTemplate("env."+k, d.Env[k], data)
		if err != nil {
			return LaunchSpec{}, err
		}
		env = append(env, k+"="+v)
	}
	env = append(env,
		EnvWorkerName+"="+d.Name,
		EnvWorkerCategory+"="+d.Category,
		EnvWorkerHost+"="+host,
		EnvWorkerPort+"="+strconv.Itoa(port),
		EnvPort+"="+strconv.Itoa(port),
	)
	spec.Env = env

	return spec, nil
}

func renderTemplate(name, text string, data templateData) (string, error) {
	if !bytes.Contains([]byte(text), []byte("{{")) {
		return text, nil
	}

	tmpl, err := template.New(name).
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return "", fmt.Errorf("parsing %s template: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s template: %w", name, err)
	}
	return buf.String(), nil
}
