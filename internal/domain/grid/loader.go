package grid

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/turtacn/gnn-opf/pkg/errors"
)

var validate = validator.New()

// networkDocument is the on-disk shape.  Pointer slices distinguish an absent
// key from an empty list.
type networkDocument struct {
	Name       string       `yaml:"name"`
	Buses      *[]Bus       `yaml:"buses"`
	Lines      *[]Line      `yaml:"lines"`
	Generators *[]Generator `yaml:"generators"`
}

// LoadNetworkConfig reads the YAML network description at path.  Every
// failure (missing file, malformed YAML, absent top-level key, invalid record,
// dangling bus reference) is reported as CodeConfigError.
func LoadNetworkConfig(path string) (*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConfigError, "failed to read network config").
			WithDetail("path=" + path)
	}
	return ParseNetworkConfig(data, path)
}

// ParseNetworkConfig decodes a YAML network description.  source names the
// document in error details.  Unknown keys are rejected.
func ParseNetworkConfig(data []byte, source string) (*Network, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc networkDocument
	if err := dec.Decode(&doc); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil, errors.ConfigError("network config is empty").WithDetail("source=" + source)
		}
		return nil, errors.Wrap(err, errors.CodeConfigError, "malformed network config").
			WithDetail("source=" + source)
	}

	var missing []string
	if doc.Buses == nil {
		missing = append(missing, "buses")
	}
	if doc.Lines == nil {
		missing = append(missing, "lines")
	}
	if doc.Generators == nil {
		missing = append(missing, "generators")
	}
	if len(missing) > 0 {
		return nil, errors.Newf(errors.CodeConfigError, "network config is missing required key(s): %s",
			strings.Join(missing, ", ")).WithDetail("source=" + source)
	}
	if len(*doc.Buses) == 0 {
		return nil, errors.ConfigError("network config declares no buses").WithDetail("source=" + source)
	}
	if len(*doc.Generators) == 0 {
		return nil, errors.ConfigError("network config declares no generators").WithDetail("source=" + source)
	}

	if err := validateRecords(*doc.Buses, *doc.Lines, *doc.Generators); err != nil {
		return nil, errors.Wrap(err, errors.CodeConfigError, "invalid network record").
			WithDetail("source=" + source)
	}

	n, err := NewNetwork(doc.Name, *doc.Buses, *doc.Lines, *doc.Generators)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConfigError, "inconsistent network config").
			WithDetail("source=" + source)
	}
	return n, nil
}

func validateRecords(buses []Bus, lines []Line, gens []Generator) error {
	for i := range buses {
		if err := validate.Struct(buses[i]); err != nil {
			return fmt.Errorf("buses[%d] (id %d): %w", i, buses[i].ID, formatValidationError(err))
		}
	}
	for i := range lines {
		if err := validate.Struct(lines[i]); err != nil {
			return fmt.Errorf("lines[%d] (id %d): %w", i, lines[i].ID, formatValidationError(err))
		}
	}
	for i := range gens {
		if err := validate.Struct(gens[i]); err != nil {
			return fmt.Errorf("generators[%d] (id %d): %w", i, gens[i].ID, formatValidationError(err))
		}
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "gt":
			msgs = append(msgs, fmt.Sprintf("%s must be greater than %s", field, e.Param()))
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must not be negative", field))
		case "ne":
			msgs = append(msgs, fmt.Sprintf("%s must not be %s", field, e.Param()))
		case "nefield":
			msgs = append(msgs, fmt.Sprintf("%s must differ from %s", field, strings.ToLower(e.Param())))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, e.Tag()))
		}
	}
	return stderrors.New(strings.Join(msgs, "; "))
}

// index builds the bus lookup and checks every reference against it.
func (n *Network) index() error {
	n.busIndex = make(map[int]int, len(n.Buses))
	for i, b := range n.Buses {
		if _, dup := n.busIndex[b.ID]; dup {
			return errors.Newf(errors.CodeConfigError, "duplicate bus id %d", b.ID)
		}
		n.busIndex[b.ID] = i
	}
	for _, l := range n.Lines {
		if _, ok := n.busIndex[l.FromBus]; !ok {
			return errors.Newf(errors.CodeConfigError, "line %d references undefined bus %d", l.ID, l.FromBus)
		}
		if _, ok := n.busIndex[l.ToBus]; !ok {
			return errors.Newf(errors.CodeConfigError, "line %d references undefined bus %d", l.ID, l.ToBus)
		}
	}
	for _, g := range n.Generators {
		if _, ok := n.busIndex[g.Bus]; !ok {
			return errors.Newf(errors.CodeConfigError, "generator %d references undefined bus %d", g.ID, g.Bus)
		}
	}
	return nil
}
