package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// generateFeature builds a feature with the given number of plain scenarios,
// tagged @smoke and @slow in turn, plus one outline when rows > 0.
func generateFeature(name string, scenarios, rows int) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Feature: %s\n", name)
	buf.WriteString("  Background:\n    Given the system is running\n\n")
	for i := 1; i <= scenarios; i++ {
		tag := "@smoke"
		if i%2 == 0 {
			tag = "@slow"
		}
		fmt.Fprintf(&buf, "  %s\n  Scenario: %s scenario %d\n", tag, name, i)
		fmt.Fprintf(&buf, "    Given precondition %d\n", i)
		fmt.Fprintf(&buf, "    When action %d is taken\n", i)
		fmt.Fprintf(&buf, "    Then result %d is observed\n\n", i)
	}
	if rows > 0 {
		fmt.Fprintf(&buf, "  Scenario Outline: %s with <input>\n", name)
		buf.WriteString("    Given the input <input>\n    Then the output is <output>\n\n")
		buf.WriteString("    Examples:\n      | input | output |\n")
		for r := 1; r <= rows; r++ {
			fmt.Fprintf(&buf, "      | in%d   | out%d   |\n", r, r)
		}
	}
	return buf.String()
}

func writeBenchFeatures(b *testing.B, files, scenarios, rows int) {
	b.Helper()
	for i := 0; i < files; i++ {
		name := fmt.Sprintf("feature_%d", i)
		path := filepath.Join("features", name+".feature")
		require.NoError(b, os.WriteFile(path, []byte(generateFeature(name, scenarios, rows)), 0o644))
	}
}

// setupBenchProject initializes a project in a temp dir and syncs it once.
func setupBenchProject(b *testing.B, files, scenarios, rows int) {
	b.Helper()
	orig, err := os.Getwd()
	require.NoError(b, err)
	require.NoError(b, os.Chdir(b.TempDir()))
	b.Cleanup(func() { os.Chdir(orig) })

	require.NoError(b, RunInit(&bytes.Buffer{}))
	writeBenchFeatures(b, files, scenarios, rows)
	require.NoError(b, RunSync(&bytes.Buffer{}))
}

func benchSync(b *testing.B, files, scenarios, rows int) {
	setupBenchProject(b, files, scenarios, rows)
	var buf bytes.Buffer
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		require.NoError(b, RunSync(&buf))
	}
}

// Re-sync with no changes.
func BenchmarkSync_Unchanged_Small(b *testing.B) { benchSync(b, 5, 10, 0) }
func BenchmarkSync_Unchanged_Large(b *testing.B) { benchSync(b, 50, 50, 0) }

// Outlines expand to one pickle per row.
func BenchmarkSync_Outlines(b *testing.B) { benchSync(b, 10, 5, 100) }

func BenchmarkSync_FirstSync(b *testing.B) {
	orig, err := os.Getwd()
	require.NoError(b, err)
	defer os.Chdir(orig)

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		require.NoError(b, os.Chdir(b.TempDir()))
		require.NoError(b, RunInit(&bytes.Buffer{}))
		writeBenchFeatures(b, 5, 10, 10)
		b.StartTimer()

		require.NoError(b, RunSync(&bytes.Buffer{}))
	}
}

func BenchmarkList_TagFilter(b *testing.B) {
	setupBenchProject(b, 20, 20, 20)
	opts := ListOptions{Tags: "@smoke and not @slow", TagsSet: true}
	var buf bytes.Buffer
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		require.NoError(b, RunList(&buf, opts))
	}
}
