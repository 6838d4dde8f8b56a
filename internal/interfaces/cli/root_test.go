package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/turtacn/gnn-opf/pkg/errors"
)

func TestNewRootCommand_Structure(t *testing.T) {
	cmd := NewRootCommand()
	if cmd.Use != "gnnopf" {
		t.Errorf("expected Use='gnnopf', got %q", cmd.Use)
	}
	if cmd.Short == "" || cmd.Long == "" {
		t.Error("Short and Long should not be empty")
	}

	subNames := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		subNames[sub.Name()] = true
	}
	for _, name := range []string{"run", "generate", "train", "evaluate", "infer", "cases", "version"} {
		if !subNames[name] {
			t.Errorf("expected subcommand %q not found", name)
		}
	}
}

func TestNewRootCommand_TrainSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	train, _, err := cmd.Find([]string{"train"})
	if err != nil {
		t.Fatalf("train not found: %v", err)
	}
	names := make(map[string]bool)
	for _, sub := range train.Commands() {
		names[sub.Name()] = true
	}
	if !names["baseline"] || !names["gnn"] {
		t.Errorf("train should have baseline and gnn subcommands, got %v", names)
	}
}

func TestNewRootCommand_GlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{
		"config", "log-level", "output", "verbose", "timeout",
		"num-scenarios", "load-variation", "epochs", "batch-size", "learning-rate", "seed", "case", "data-dir",
	} {
		if cmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("flag %q should exist", name)
		}
	}

	verbose := cmd.PersistentFlags().Lookup("verbose")
	if verbose.Shorthand != "v" {
		t.Errorf("verbose flag shorthand should be 'v', got %q", verbose.Shorthand)
	}
	if out := cmd.PersistentFlags().Lookup("output"); out.DefValue != "table" {
		t.Errorf("output flag default should be 'table', got %q", out.DefValue)
	}
}

func TestExecute_Help(t *testing.T) {
	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--help"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execution failed: %v", err)
	}
	if !strings.Contains(buf.String(), "gnnopf") {
		t.Error("help output should mention gnnopf")
	}
}

func TestExecute_UnknownSubcommand(t *testing.T) {
	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{"unknownsubcommand"})
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Error("expected error for unknown subcommand")
	}
}

func TestExitStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"foreign", bytes.ErrTooLarge, 1},
		{"config", errors.ConfigError("bad"), 3},
		{"graph", errors.GraphBuildError("bad"), 4},
		{"data", errors.DataError("bad"), 5},
		{"checkpoint", errors.CheckpointError("bad"), 6},
		{"canceled", errors.New(errors.CodeCanceled, "stop"), 130},
	}
	for _, tc := range cases {
		if got := ExitStatus(tc.err); got != tc.want {
			t.Errorf("%s: ExitStatus = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestFormatTable(t *testing.T) {
	got := FormatTable([]string{"A", "LONG"}, [][]string{{"xyz", "1"}, {"q"}})
	want := "A    LONG\n---  ----\nxyz  1   \nq        \n"
	if got != want {
		t.Errorf("FormatTable =\n%q\nwant\n%q", got, want)
	}
	if FormatTable(nil, nil) != "" {
		t.Error("no headers should render nothing")
	}
}

func TestGetCLIContext_Missing(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetContext(context.Background())
	if _, err := GetCLIContext(cmd); err == nil {
		t.Error("expected error without CLIContext")
	}
}
