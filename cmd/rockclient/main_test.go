package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		argv []string
		cmd  string
		ok   bool
	}{
		{nil, "serve", true},
		{[]string{"serve"}, "serve", true},
		{[]string{"serve", "extra"}, "serve", false},
		{[]string{"get", "/campuses"}, "get", true},
		{[]string{"get", "-refresh", "/campuses"}, "get", true},
		{[]string{"get", "-refresh"}, "get", false},
		{[]string{"get"}, "get", false},
		{[]string{"login", "ada", "pw"}, "login", true},
		{[]string{"login", "ada"}, "login", false},
		{[]string{"logout"}, "logout", true},
		{[]string{"purge"}, "purge", false},
	}
	for _, tt := range tests {
		cmd, _, ok := parseCommand(tt.argv)
		assert.Equal(t, tt.cmd, cmd, "%v", tt.argv)
		assert.Equal(t, tt.ok, ok, "%v", tt.argv)
	}
}
