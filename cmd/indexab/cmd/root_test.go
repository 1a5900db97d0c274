package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWorkload(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "orders.yaml")
	sqlPath := filepath.Join(dir, "orders.sql")
	require.NoError(t, os.WriteFile(yamlPath, []byte("table: orders\nqueries:\n  - SELECT * FROM orders WHERE status = 'new'\n"), 0o600))
	require.NoError(t, os.WriteFile(sqlPath, []byte("SELECT * FROM orders WHERE status = 'new';"), 0o600))

	tests := map[string]struct {
		args          []string
		expectedTable string
		expectError   bool
	}{
		"yaml":                  {args: []string{"--workload", yamlPath}, expectedTable: "orders"},
		"yaml table override":   {args: []string{"--workload", yamlPath, "--table", "orders_archive"}, expectedTable: "orders_archive"},
		"sql with table":        {args: []string{"--workload", sqlPath, "--table", "orders"}, expectedTable: "orders"},
		"sql without table":     {args: []string{"--workload", sqlPath}, expectError: true},
		"missing workload file": {args: []string{"--workload", filepath.Join(dir, "missing.sql"), "--table", "orders"}, expectError: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "test"}
			addWorkloadFlags(cmd)
			require.NoError(t, cmd.ParseFlags(tc.args))

			w, err := loadWorkload(cmd)
			if tc.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedTable, w.Table)
			assert.Equal(t, []string{"SELECT * FROM orders WHERE status = 'new'"}, w.Queries)
		})
	}
}

func TestRootCmd(t *testing.T) {
	root := RootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"run", "analyse", "healthcheck"}, names)
}
