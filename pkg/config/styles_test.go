package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultStyles(t *testing.T) {
	s := DefaultStyles()
	if s.K13d.Body.FgColor == "" {
		t.Fatal("expected a default body fgColor")
	}
	if s.K13d.Connection.Operator == "" || s.K13d.Connection.Node == "" {
		t.Fatal("expected default connection role colors")
	}
}

func TestColorToTcellColor(t *testing.T) {
	c := Color("#ff5555")
	if c.ToTcellColor() == 0 {
		t.Fatal("expected a resolved tcell color for a hex string")
	}
	var empty Color
	if empty.ToTcellColor().String() != "default" {
		t.Fatalf("expected ColorDefault for empty Color, got %v", empty.ToTcellColor())
	}
}

func TestLoadStylesMissingFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	orig := getConfigDirFunc
	getConfigDirFunc = func() (string, error) { return dir, nil }
	defer func() { getConfigDirFunc = orig }()

	s, err := LoadStyles("nonexistent")
	if err != nil {
		t.Fatalf("LoadStyles: %v", err)
	}
	if s.K13d.Body.FgColor != DefaultStyles().K13d.Body.FgColor {
		t.Fatal("expected default theme when skin file is missing")
	}
}

func TestSaveAndLoadStylesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	orig := getConfigDirFunc
	getConfigDirFunc = func() (string, error) { return dir, nil }
	defer func() { getConfigDirFunc = orig }()

	custom := DefaultStyles()
	custom.K13d.Connection.Pending = "#abcdef"
	if err := SaveStyles("custom", custom); err != nil {
		t.Fatalf("SaveStyles: %v", err)
	}

	loaded, err := LoadStyles("custom")
	if err != nil {
		t.Fatalf("LoadStyles: %v", err)
	}
	if loaded.K13d.Connection.Pending != "#abcdef" {
		t.Fatalf("expected round-tripped Pending color, got %v", loaded.K13d.Connection.Pending)
	}

	if _, err := os.Stat(filepath.Join(dir, "skins", "custom.yaml")); err != nil {
		t.Fatalf("expected skin file to exist: %v", err)
	}
}

func TestListSkinsIncludesDefaultWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	orig := getConfigDirFunc
	getConfigDirFunc = func() (string, error) { return dir, nil }
	defer func() { getConfigDirFunc = orig }()

	skins, err := ListSkins()
	if err != nil {
		t.Fatalf("ListSkins: %v", err)
	}
	if len(skins) != 1 || skins[0] != "default" {
		t.Fatalf("expected [\"default\"], got %v", skins)
	}
}
