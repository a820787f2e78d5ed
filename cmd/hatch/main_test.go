package main

import (
	"strings"
	"testing"
)

func TestHelpArgsStringListsAllSubcommands(t *testing.T) {
	help := helpArgsString()
	for _, want := range []string{"master", "worker", "local"} {
		if !strings.Contains(help, want) {
			t.Errorf("helpArgsString() missing %q:\n%s", want, help)
		}
	}
}
