package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleCSV = `load.loadNumber,load.mode,load.rateType,load.status,customer.customerId,customer.name
L-1,FTL,SPOT,DRAFT,C-1,Acme
L-2,FTL,SPOT,DRAFT,C-1,Acme
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--config", t.TempDir(), "--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFieldsCommand(t *testing.T) {
	t.Run("prints the registry as a table", func(t *testing.T) {
		out, err := execute(t, "fields")
		require.NoError(t, err)
		assert.Contains(t, out, "PATH")
		assert.Contains(t, out, "load.loadNumber")
		assert.Contains(t, out, "always")
	})

	t.Run("prints the registry as JSON", func(t *testing.T) {
		out, err := execute(t, "fields", "--json")
		require.NoError(t, err)
		var fields []map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &fields))
		assert.NotEmpty(t, fields)
	})
}

func TestSuggestCommand(t *testing.T) {
	file := writeFile(t, "loads.csv", sampleCSV)

	out, err := execute(t, "suggest", "--file", file)
	require.NoError(t, err)

	var mapping map[string]string
	require.NoError(t, yaml.Unmarshal([]byte(out), &mapping))
	assert.Equal(t, "load.loadNumber", mapping["load.loadNumber"])
	assert.Equal(t, "customer.name", mapping["customer.name"])
}

func TestRunCommand(t *testing.T) {
	file := writeFile(t, "loads.csv", sampleCSV)

	t.Run("maps and validate on a dry run", func(t *testing.T) {
		mappingFile := writeFile(t, "mapping.yaml", "load.loadNumber: load.loadNumber\ncustomer.name: customer.name\n")

		out, err := execute(t, "run", "--file", file, "--mapping", mappingFile, "--dry-run")
		require.NoError(t, err)

		var res struct {
			Summary struct {
				Total     int `json:"total"`
				Submitted int `json:"submitted"`
			} `json:"summary"`
			Columns []string `json:"columns"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.Equal(t, 2, res.Summary.Total)
		assert.Zero(t, res.Summary.Submitted)
		assert.Equal(t, []string{"load.loadNumber", "customer.name"}, res.Columns)
	})

	t.Run("rejects an empty mapping file", func(t *testing.T) {
		mappingFile := writeFile(t, "mapping.yaml", "")
		_, err := execute(t, "run", "--file", file, "--mapping", mappingFile, "--dry-run")
		require.Error(t, err)
	})

	t.Run("requires --persist for saved mappings", func(t *testing.T) {
		_, err := execute(t, "run", "--file", file, "--mapping-name", "default", "--dry-run")
		require.Error(t, err)
	})

	t.Run("fails on a missing file", func(t *testing.T) {
		_, err := execute(t, "run", "--file", filepath.Join(t.TempDir(), "nope.csv"), "--dry-run")
		require.Error(t, err)
	})
}
