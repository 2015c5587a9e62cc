// File: internal/testutil/fds.go
// Author: momentics <momentics@gmail.com>

// Package testutil holds helpers shared by package tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shirou/gopsutil/v4/process"
)

// OpenFDs returns how many descriptors this process holds.
func OpenFDs(t testing.TB) int32 {
	t.Helper()
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		t.Fatalf("inspect self: %v", err)
	}
	n, err := p.NumFDs()
	if err != nil {
		t.Skipf("descriptor count unavailable: %v", err)
	}
	return n
}

// Node creates an empty regular file standing in for a QoS control node.
func Node(t testing.TB, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("create node %s: %v", path, err)
	}
	return path
}
