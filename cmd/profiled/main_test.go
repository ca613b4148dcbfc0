package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPolicyCheckPrintsLimits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	rules := "admins: [alice]\nbypass_combat: admin\nmax_profiles:\n  - when: admin\n    limit: -1\n"
	if err := os.WriteFile(path, []byte(rules), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"--env-file", "", "policy", "check", path, "--owner", "alice,bob"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "alice\tmax_profiles=-1\tbypass_combat=true") {
		t.Fatalf("output missing admin line:\n%s", got)
	}
	if !strings.Contains(got, "bob\tmax_profiles=1\tbypass_combat=false") {
		t.Fatalf("output missing default line:\n%s", got)
	}
}

func TestPolicyCheckRejectsBadRule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("can_create: 'name +'\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--env-file", "", "policy", "check", path})
	if err := root.Execute(); err == nil {
		t.Fatalf("Execute() error = nil, want compile error")
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("loadEnvFile(missing) error = %v, want nil", err)
	}

	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("PROFILED_TEST_VALUE=from_file\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("PROFILED_TEST_VALUE", "")
	os.Unsetenv("PROFILED_TEST_VALUE")
	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile() error = %v", err)
	}
	if got := os.Getenv("PROFILED_TEST_VALUE"); got != "from_file" {
		t.Fatalf("PROFILED_TEST_VALUE = %q, want %q", got, "from_file")
	}
}
