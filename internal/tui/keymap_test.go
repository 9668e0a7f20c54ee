package tui

import (
	"testing"

	"charm.land/bubbles/v2/key"
	tea "charm.land/bubbletea/v2"
)

// TestKeyMapBindings verifies the dashboard actions resolve to their keys.
func TestKeyMapBindings(t *testing.T) {
	km := newKeyMap()
	cases := []struct {
		name    string
		msg     tea.KeyPressMsg
		binding key.Binding
	}{
		{name: "quit", msg: keyRune('q'), binding: km.quit},
		{name: "down", msg: keyRune('j'), binding: km.moveDown},
		{name: "down arrow", msg: tea.KeyPressMsg{Code: tea.KeyDown}, binding: km.moveDown},
		{name: "up", msg: keyRune('k'), binding: km.moveUp},
		{name: "detail", msg: tea.KeyPressMsg{Code: tea.KeyEnter}, binding: km.detail},
		{name: "approve", msg: keyRune('a'), binding: km.approve},
		{name: "demo", msg: keyRune('d'), binding: km.loadDemo},
		{name: "copy", msg: keyRune('y'), binding: km.copyID},
		{name: "connect", msg: keyRune('c'), binding: km.connect},
		{name: "disconnect", msg: keyRune('x'), binding: km.disconnect},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !key.Matches(tc.msg, tc.binding) {
				t.Fatalf("expected %q to match %v", tc.msg.String(), tc.binding.Keys())
			}
		})
	}
	if key.Matches(keyRune('a'), km.quit) {
		t.Fatal("approve key must not quit")
	}
}

// TestKeyMapHelpGroups verifies every binding is reachable from full help.
func TestKeyMapHelpGroups(t *testing.T) {
	km := newKeyMap()
	seen := 0
	for _, group := range km.FullHelp() {
		seen += len(group)
	}
	if seen != 11 {
		t.Fatalf("expected 11 bindings in full help, got %d", seen)
	}
	if len(km.ShortHelp()) == 0 {
		t.Fatal("expected short help bindings")
	}
}
