package normalize

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoModules is returned when no <service>/<region> directories exist.
var ErrNoModules = errors.New("no modules discovered")

// Module describes one discovered <service>/<region> directory.
type Module struct {
	// Name is "<service>_<region>".
	Name string `json:"name" yaml:"name"`

	// Source is the relative module path, "./<service>/<region>".
	Source string `json:"source" yaml:"source"`
}

// NormalizeName trims a path segment and replaces inner whitespace runs
// with a single underscore.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(s), "_")
}

// DiscoverModules lists the <service>/<region> directories directly below
// dir, sorted by name. Hidden directories are ignored.
func DiscoverModules(dir string) ([]Module, error) {
	services, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	seen := make(map[string]bool)
	var modules []Module
	for _, svc := range services {
		if !svc.IsDir() || strings.HasPrefix(svc.Name(), ".") {
			continue
		}
		regions, err := os.ReadDir(filepath.Join(dir, svc.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", svc.Name(), err)
		}
		for _, reg := range regions {
			if !reg.IsDir() || strings.HasPrefix(reg.Name(), ".") {
				continue
			}
			service, region := NormalizeName(svc.Name()), NormalizeName(reg.Name())
			if service == "" || region == "" {
				continue
			}
			name := service + "_" + region
			if seen[name] {
				continue
			}
			seen[name] = true
			modules = append(modules, Module{
				Name:   name,
				Source: "./" + svc.Name() + "/" + reg.Name(),
			})
		}
	}

	if len(modules) == 0 {
		return nil, ErrNoModules
	}

	sort.Slice(modules, func(i, j int) bool { return modules[i].Name < modules[j].Name })
	return modules, nil
}
