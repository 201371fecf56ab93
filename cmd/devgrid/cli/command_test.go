// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func testTree(ran *string) *Command {
	return &Command{
		Name: "devgrid",
		Subcommands: []*Command{
			{
				Name:    "start",
				Summary: "start services",
				Flags: func() *pflag.FlagSet {
					fs := pflag.NewFlagSet("start", pflag.ContinueOnError)
					fs.Bool("only-dependencies", false, "")
					return fs
				},
				Run: func(args []string) error {
					*ran = "start " + strings.Join(args, " ")
					return nil
				},
			},
			{
				Name:    "stop",
				Summary: "stop services",
				Run: func(args []string) error {
					*ran = "stop"
					return nil
				},
			},
			{Name: "exec", Hidden: true, Run: func(args []string) error {
				*ran = "exec"
				return nil
			}},
		},
	}
}

func TestDispatchToSubcommand(t *testing.T) {
	var ran string
	root := testTree(&ran)
	if err := root.Execute([]string{"start", "mongo", "--only-dependencies"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if ran != "start mongo" {
		t.Errorf("ran = %q", ran)
	}
}

func TestUnknownCommandSuggestion(t *testing.T) {
	var ran string
	err := testTree(&ran).Execute([]string{"strat"})
	if err == nil {
		t.Fatal("expected an unknown-command error")
	}
	if !strings.Contains(err.Error(), `did you mean "start"`) {
		t.Errorf("error %q lacks suggestion", err)
	}
}

func TestUnknownFlagSuggestion(t *testing.T) {
	var ran string
	err := testTree(&ran).Execute([]string{"start", "--only-dependancies"})
	if err == nil {
		t.Fatal("expected an unknown-flag error")
	}
	if !strings.Contains(err.Error(), "--only-dependencies") {
		t.Errorf("error %q lacks flag suggestion", err)
	}
}

func TestHiddenCommandDispatchesButIsNotListed(t *testing.T) {
	var ran string
	root := testTree(&ran)
	if err := root.Execute([]string{"exec"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if ran != "exec" {
		t.Errorf("ran = %q", ran)
	}

	var help strings.Builder
	root.PrintHelp(&help)
	if strings.Contains(help.String(), "exec") {
		t.Error("hidden command listed in help output")
	}
}

func TestHiddenCommandNotSuggested(t *testing.T) {
	var ran string
	err := testTree(&ran).Execute([]string{"exce"})
	if err != nil && strings.Contains(err.Error(), `"exec"`) {
		t.Errorf("hidden command suggested: %v", err)
	}
}

func TestSubcommandRequired(t *testing.T) {
	var ran string
	if err := testTree(&ran).Execute(nil); err == nil {
		t.Fatal("expected a subcommand-required error")
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "stop", 4},
		{"start", "start", 0},
		{"strat", "start", 2},
		{"stp", "stop", 1},
		{"reset", "status", 6},
	}
	for _, c := range cases {
		if got := levenshtein(c.a, c.b); got != c.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
