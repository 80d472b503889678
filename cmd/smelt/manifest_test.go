package main

import (
	"os"
	"path/filepath"
	"testing"

	"smelt/internal/translate"
)

func TestReadBoundsPolicy(t *testing.T) {
	cases := []struct {
		in      string
		want    translate.BoundsPolicy
		wantErr bool
	}{
		{in: "explicit", want: translate.BoundsExplicit},
		{in: "", want: translate.BoundsExplicit},
		{in: "GUARD", want: translate.BoundsGuardRegion},
		{in: " guard ", want: translate.BoundsGuardRegion},
		{in: "fenced", wantErr: true},
	}
	for _, tc := range cases {
		got, err := readBoundsPolicy(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("readBoundsPolicy(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("readBoundsPolicy(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("readBoundsPolicy(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestReadUIMode(t *testing.T) {
	cases := []struct {
		in      string
		want    uiMode
		wantErr bool
	}{
		{in: "", want: uiModeAuto},
		{in: "auto", want: uiModeAuto},
		{in: "On", want: uiModeOn},
		{in: "off", want: uiModeOff},
		{in: "maybe", wantErr: true},
	}
	for _, tc := range cases {
		got, err := readUIMode(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("readUIMode(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("readUIMode(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("readUIMode(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestLoadProjectConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "smelt.toml")
	content := `
[package]
name = "imaging"

[build]
target = "amd64"
jobs = 4
bounds = "guard"
unwind = false
out-dir = "dist"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadProjectConfig(path)
	if err != nil {
		t.Fatalf("loadProjectConfig: %v", err)
	}
	if cfg.Package.Name != "imaging" {
		t.Errorf("name = %q", cfg.Package.Name)
	}
	if cfg.Build.Target != "amd64" || cfg.Build.Jobs != 4 || cfg.Build.Bounds != "guard" {
		t.Errorf("build = %+v", cfg.Build)
	}
	if cfg.Build.Unwind == nil || *cfg.Build.Unwind {
		t.Errorf("unwind should be explicitly false")
	}
	if cfg.Build.OutDir != "dist" {
		t.Errorf("out-dir = %q", cfg.Build.OutDir)
	}
}

func TestLoadProjectConfigRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name    string
		content string
	}{
		{"missing package", "[build]\njobs = 2\n"},
		{"missing name", "[package]\n"},
		{"empty name", "[package]\nname = \"  \"\n"},
		{"bad bounds", "[package]\nname = \"x\"\n[build]\nbounds = \"fenced\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, "smelt.toml")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := loadProjectConfig(path); err == nil {
				t.Fatal("loadProjectConfig accepted malformed manifest")
			}
		})
	}
}

func TestFindSmeltTomlWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := filepath.Join(root, "smelt.toml")
	if err := os.WriteFile(manifest, []byte("[package]\nname = \"x\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	found, ok, err := findSmeltToml(nested)
	if err != nil {
		t.Fatalf("findSmeltToml: %v", err)
	}
	if !ok {
		t.Fatal("manifest not found")
	}
	if found != manifest {
		t.Errorf("found %q, want %q", found, manifest)
	}
}
