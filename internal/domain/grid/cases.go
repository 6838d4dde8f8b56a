package grid

import (
	"embed"
	"path"
	"sort"
	"strings"

	"github.com/turtacn/gnn-opf/pkg/errors"
)

//go:embed cases/*.yaml
var caseFS embed.FS

// AvailableCases lists the built-in network cases, sorted.
func AvailableCases() []string {
	entries, err := caseFS.ReadDir("cases")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".yaml") {
			names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
		}
	}
	sort.Strings(names)
	return names
}

// LoadCase returns a built-in network by name, e.g. "case14".  An unknown
// name is a CodeConfigError listing the available cases.
func LoadCase(name string) (*Network, error) {
	data, err := caseFS.ReadFile(path.Join("cases", name+".yaml"))
	if err != nil {
		return nil, errors.Newf(errors.CodeConfigError, "unknown case name %q", name).
			WithDetail("available cases: " + strings.Join(AvailableCases(), ", "))
	}
	return ParseNetworkConfig(data, "case:"+name)
}

// CaseSource returns the raw YAML of a built-in case so it can be written
// out and edited.
func CaseSource(name string) ([]byte, error) {
	data, err := caseFS.ReadFile(path.Join("cases", name+".yaml"))
	if err != nil {
		return nil, errors.Newf(errors.CodeConfigError, "unknown case name %q", name).
			WithDetail("available cases: " + strings.Join(AvailableCases(), ", "))
	}
	return data, nil
}

// Resolve loads the network from configPath when set, otherwise the named
// built-in case.
func Resolve(configPath, caseName string) (*Network, error) {
	if configPath != "" {
		return LoadNetworkConfig(configPath)
	}
	return LoadCase(caseName)
}
