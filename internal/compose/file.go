package compose

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/compose-spec/compose-go/v2/loader"
	composetypes "github.com/compose-spec/compose-go/v2/types"
)

// File wraps a parsed compose project. Scratchpad only loads, labels, and
// saves compose documents; everything else is left to the compose CLI.
type File struct {
	project *composetypes.Project
}

// Load parses compose YAML content into a File.
func Load(ctx context.Context, data []byte, projectName string) (*File, error) {
	details := composetypes.ConfigDetails{
		ConfigFiles: []composetypes.ConfigFile{
			{Filename: "compose.yml", Content: data},
		},
	}
	project, err := loader.LoadWithContext(ctx, details, func(o *loader.Options) {
		o.SetProjectName(projectName, true)
	})
	if err != nil {
		return nil, fmt.Errorf("parse compose document: %w", err)
	}
	if len(project.Services) == 0 {
		return nil, fmt.Errorf("compose document has no services")
	}
	return &File{project: project}, nil
}

// AddLabels tags every service with the scratch and service labels used to
// find containers later.
func (f *File) AddLabels(scratchName, labelPrefix string) {
	for name, svc := range f.project.Services {
		if svc.Labels == nil {
			svc.Labels = composetypes.Labels{}
		}
		svc.Labels[labelPrefix+".scratch"] = scratchName
		svc.Labels[labelPrefix+".service"] = name
		f.project.Services[name] = svc
	}
}

// AddNetwork attaches every service to the shared external network.
func (f *File) AddNetwork(network string) {
	if f.project.Networks == nil {
		f.project.Networks = composetypes.Networks{}
	}
	f.project.Networks[network] = composetypes.NetworkConfig{
		Name:     network,
		External: true,
	}
	for name, svc := range f.project.Services {
		if svc.Networks == nil {
			svc.Networks = map[string]*composetypes.ServiceNetworkConfig{}
		}
		if _, ok := svc.Networks[network]; !ok {
			svc.Networks[network] = nil
		}
		f.project.Services[name] = svc
	}
}

// Services returns the service names present in the document.
func (f *File) Services() []string {
	names := make([]string, 0, len(f.project.Services))
	for name := range f.project.Services {
		names = append(names, name)
	}
	return names
}

// Save writes the document to path, creating parent directories.
func (f *File) Save(path string) error {
	data, err := f.project.MarshalYAML()
	if err != nil {
		return fmt.Errorf("marshal compose document: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create compose dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write compose document: %w", err)
	}
	return nil
}
