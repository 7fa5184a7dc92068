package scratch

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"text/template"

	"github.com/Krakaw/scratchpad/pkg/config"
)

// defaultTemplate renders the per-scratch compose document. Shared services
// are provisioned as singletons outside the document and never appear here.
const defaultTemplate = `services:
{{- range .Services }}
  {{ .Key }}:
    image: {{ .Image }}
    container_name: {{ .ContainerName }}
    restart: unless-stopped
{{- if .Env }}
    environment:
{{- range .Env }}
      {{ .Name }}: {{ .Value | quote }}
{{- end }}
{{- end }}
{{- if .Ports }}
    ports:
{{- range .Ports }}
      - {{ . | quote }}
{{- end }}
{{- end }}
{{- if .Volumes }}
    volumes:
{{- range .Volumes }}
      - {{ . | quote }}
{{- end }}
{{- end }}
{{- end }}
`

type templateEnv struct {
	Name  string
	Value string
}

type templateService struct {
	Key           string
	ContainerName string
	Image         string
	Env           []templateEnv
	Ports         []string
	Volumes       []string
}

type templateData struct {
	Name     string
	Network  string
	Services []templateService
}

// Renderer turns a scratch declaration plus the catalogue into a compose
// document. Named templates are looked up under the templates directory and
// fall back to the built-in default when absent.
type Renderer struct {
	templatesDir string
}

// NewRenderer constructs a compose renderer.
func NewRenderer(templatesDir string) *Renderer {
	return &Renderer{templatesDir: templatesDir}
}

func (r *Renderer) source(name string) (string, error) {
	if r.templatesDir != "" && name != "" {
		path := filepath.Join(r.templatesDir, name+".yml.tmpl")
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("read template %s: %w", path, err)
		}
	}
	return defaultTemplate, nil
}

// Render produces the compose YAML for a scratch. Only non-shared services
// are rendered; extraEnv carries computed values such as connection URLs and
// is merged over the catalogue and scratch env.
func (r *Renderer) Render(name, templateName string, services []string, cfg config.Config, extraEnv map[string]string) ([]byte, error) {
	data := templateData{
		Name:    name,
		Network: cfg.Docker.Network,
	}
	for _, key := range services {
		svc, ok := cfg.GetService(key)
		if !ok || svc.Shared {
			continue
		}
		entry := templateService{
			Key:           key,
			ContainerName: name + "-" + key,
			Image:         svc.Image,
			Env:           mergeEnv(svc.Env, extraEnv),
			Volumes:       svc.Volumes,
		}
		if svc.Port > 0 && svc.InternalPort > 0 {
			entry.Ports = []string{fmt.Sprintf("%d:%d", svc.Port, svc.InternalPort)}
		}
		data.Services = append(data.Services, entry)
	}
	if len(data.Services) == 0 {
		return nil, fmt.Errorf("scratch %q declares no renderable services", name)
	}

	source, err := r.source(templateName)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New("compose").Funcs(template.FuncMap{
		"quote": strconv.Quote,
	}).Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", templateName, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render template %s: %w", templateName, err)
	}
	return buf.Bytes(), nil
}

func mergeEnv(base, extra map[string]string) []templateEnv {
	merged := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]templateEnv, 0, len(keys))
	for _, k := range keys {
		env = append(env, templateEnv{Name: k, Value: merged[k]})
	}
	return env
}
