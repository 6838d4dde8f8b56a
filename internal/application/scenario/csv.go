package scenario

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/turtacn/gnn-opf/internal/domain/grid"
	"github.com/turtacn/gnn-opf/pkg/errors"
)

// Column names of the scenario CSV.
const (
	ColumnScenario  = "scenario"
	ColumnTotalCost = "total_cost"
	ColumnFidelity  = "fidelity"
	busColumnPrefix = "bus"
	busColumnSuffix = "_load"
)

// BusColumn returns the load column name of a bus.
func BusColumn(id int) string {
	return busColumnPrefix + strconv.Itoa(id) + busColumnSuffix
}

// WriteCSV writes records as scenario,total_cost,bus<id>_load...,fidelity
// with one load column per bus of n in declared order.  Floats use the
// shortest representation that round-trips.
func WriteCSV(w io.Writer, n *grid.Network, records []Record) error {
	cw := csv.NewWriter(w)
	header := make([]string, 0, len(n.Buses)+3)
	header = append(header, ColumnScenario, ColumnTotalCost)
	for _, b := range n.Buses {
		header = append(header, BusColumn(b.ID))
	}
	header = append(header, ColumnFidelity)
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "write csv header")
	}

	row := make([]string, len(header))
	for _, rec := range records {
		row[0] = strconv.Itoa(rec.Scenario)
		row[1] = formatFloat(rec.TotalCost)
		loads := rec.Loads.Resolve(n)
		for i, v := range loads {
			row[2+i] = formatFloat(v)
		}
		row[len(row)-1] = string(rec.Fidelity)
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, errors.CodeStorageError, "write csv row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "flush csv")
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ReadCSV parses a scenario CSV.  Only the scenario and total_cost columns
// are required; files without bus load columns yield records with empty
// Loads, and scenario numbers written as floats ("3.0") are accepted.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDataError, "malformed scenario csv")
	}
	if len(rows) == 0 {
		return nil, errors.DataError("scenario csv is empty")
	}

	header := rows[0]
	scenarioCol, costCol, fidelityCol := -1, -1, -1
	busCols := map[int]int{}
	for i, name := range header {
		name = strings.TrimSpace(name)
		switch {
		case name == ColumnScenario:
			scenarioCol = i
		case name == ColumnTotalCost:
			costCol = i
		case name == ColumnFidelity:
			fidelityCol = i
		case strings.HasPrefix(name, busColumnPrefix) && strings.HasSuffix(name, busColumnSuffix):
			id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, busColumnPrefix), busColumnSuffix))
			if err == nil {
				busCols[i] = id
			}
		}
	}
	var missing []string
	if scenarioCol < 0 {
		missing = append(missing, ColumnScenario)
	}
	if costCol < 0 {
		missing = append(missing, ColumnTotalCost)
	}
	if len(missing) > 0 {
		return nil, errors.Newf(errors.CodeDataError, "scenario csv lacks column(s) %s", strings.Join(missing, ", "))
	}
	if len(rows) == 1 {
		return nil, errors.DataError("scenario csv has no rows")
	}

	records := make([]Record, 0, len(rows)-1)
	for ri, row := range rows[1:] {
		line := ri + 2
		sc, err := parseScenario(row[scenarioCol])
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeDataError, fmt.Sprintf("line %d: bad scenario", line))
		}
		cost, err := parseFinite(row[costCol])
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeDataError, fmt.Sprintf("line %d: bad total_cost", line))
		}
		rec := Record{Scenario: sc, TotalCost: cost}
		if len(busCols) > 0 {
			rec.Loads = make(grid.LoadOverlay, len(busCols))
			for col, id := range busCols {
				v, err := parseFinite(row[col])
				if err != nil {
					return nil, errors.Wrap(err, errors.CodeDataError, fmt.Sprintf("line %d: bad %s", line, header[col]))
				}
				rec.Loads[id] = v
			}
		}
		if fidelityCol >= 0 {
			rec.Fidelity = Fidelity(strings.TrimSpace(row[fidelityCol]))
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseScenario(s string) (int, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%q is not a whole number", s)
	}
	return int(f), nil
}

func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not finite", s)
	}
	return v, nil
}

// SaveCSV writes records to path, creating parent directories.
func SaveCSV(path string, n *grid.Network, records []Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "create data directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "create "+path)
	}
	if err := WriteCSV(f, n, records); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "close "+path)
	}
	return nil
}

// LoadCSV reads the scenario CSV at path.
func LoadCSV(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.CodeDataError, "scenario file %s does not exist", path)
		}
		return nil, errors.Wrap(err, errors.CodeStorageError, "open "+path)
	}
	defer f.Close()
	return ReadCSV(f)
}
