// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qolzam/entitystore/internal/pkg/log"
	"github.com/qolzam/entitystore/internal/platform/config"
	"github.com/qolzam/entitystore/limits/models"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DB_TYPE":                  "memory",
		"ENTITY_RECORD_LIMITS":     `[{"scope":"where[_kind]=book","limit":2},{"scope":"where[_ownerUsers]=${_ownerUsers}","limit":5,"duration":"1d"}]`,
		"ENTITY_UNIQUENESS_FIELDS": "_kind,_slug",
	}
}

func execute(t *testing.T, env map[string]string, args ...string) (string, error) {
	t.Helper()
	prev := log.SetOutput(io.Discard)
	t.Cleanup(func() {
		log.SetOutput(prev)
		log.SetLevel(log.LevelInfo)
	})

	cmd := NewRootCommand(WithConfigLoader(func() (*config.Config, error) {
		return config.LoadFromMap(env)
	}))
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "entitystore", cmd.Use)

	for _, name := range []string{"validate-config", "check", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	checkCmd, _, err := cmd.Find([]string{"check"})
	require.NoError(t, err)
	kindFlag := checkCmd.Flags().Lookup("kind")
	require.NotNil(t, kindFlag)
	assert.Equal(t, "entity", kindFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, baseEnv(), "version", "--format", "yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, baseEnv(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "entitystore dev")
}

func TestValidateConfigCommand(t *testing.T) {
	t.Run("text lists the rules of every kind", func(t *testing.T) {
		out, err := execute(t, baseEnv(), "validate-config")
		require.NoError(t, err)

		assert.Contains(t, out, "Configuration valid (database: memory)")
		assert.Contains(t, out, "limit 2 in where[_kind]=book\n")
		assert.Contains(t, out, "limit 5 in where[_ownerUsers]=${_ownerUsers} within 1d")
		assert.Contains(t, out, "unique in where[_kind]=${_kind}&where[_slug]=${_slug}")
		assert.Contains(t, out, "list-reaction\n  no rules")
	})

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, baseEnv(), "validate-config", "--format", "json")
		require.NoError(t, err)

		var resp struct {
			Status string      `json:"status"`
			Data   []KindRules `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, "ok", resp.Status)
		require.Len(t, resp.Data, len(models.Kinds))

		entity := resp.Data[0]
		assert.Equal(t, "entity", entity.Kind)
		require.Len(t, entity.Limits, 2)
		assert.Equal(t, "where[_kind]=book", entity.Limits[0].Scope)
		assert.Equal(t, "1d", entity.Limits[1].RawDuration)
		require.Len(t, entity.Uniqueness, 1)
	})

	t.Run("malformed rule list", func(t *testing.T) {
		env := baseEnv()
		env["LIST_RECORD_LIMITS"] = "{"
		out, err := execute(t, env, "validate-config", "--format", "json")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))

		var resp CLIResponse
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, "error", resp.Status)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "INVALID_RULE_CONFIG", resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "LIST_RECORD_LIMITS")
	})

	t.Run("invalid configuration", func(t *testing.T) {
		env := baseEnv()
		env["DB_TYPE"] = "oracle"
		out, err := execute(t, env, "validate-config")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, out, "Error [CONFIG_ERROR]")
	})
}

func TestCheckCommand(t *testing.T) {
	books := writeFile(t, "seed.json", `[
		{"_id": "E1", "_kind": "book", "_slug": "dune"},
		{"_id": "E2", "_kind": "book", "_slug": "emma"}
	]`)

	t.Run("limit reached", func(t *testing.T) {
		candidate := writeFile(t, "candidate.json", `{"_kind": "book", "_slug": "ubik"}`)
		out, err := execute(t, baseEnv(), "check", "--file", candidate, "--seed", books, "--format", "json")
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))

		var resp struct {
			Status string `json:"status"`
			Error  struct {
				Code    string `json:"code"`
				Details struct {
					Limit int    `json:"limit"`
					Scope string `json:"scope"`
				} `json:"details"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, "error", resp.Status)
		assert.Equal(t, "ENTITY-LIMIT-EXCEEDED", resp.Error.Code)
		assert.Equal(t, 2, resp.Error.Details.Limit)
		assert.Equal(t, "where[_kind]=book", resp.Error.Details.Scope)
	})

	t.Run("uniqueness only", func(t *testing.T) {
		candidate := writeFile(t, "candidate.json", `{"_kind": "book", "_slug": "dune"}`)
		out, err := execute(t, baseEnv(), "check", "--file", candidate, "--seed", books, "--uniqueness")
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, out, "Error [ENTITY-UNIQUENESS-VIOLATION]")
		assert.Contains(t, out, `"scope":"where[_kind]=book&where[_slug]=dune"`)
	})

	t.Run("limits only ignores uniqueness", func(t *testing.T) {
		candidate := writeFile(t, "candidate.json", `{"_kind": "movie", "_slug": "dune"}`)
		out, err := execute(t, baseEnv(), "check", "--file", candidate, "--seed", books, "--limits")
		require.NoError(t, err)
		assert.Equal(t, "OK\n", out)
	})

	t.Run("passing candidate", func(t *testing.T) {
		candidate := writeFile(t, "candidate.json", `{"_kind": "movie", "_slug": "alien"}`)
		out, err := execute(t, baseEnv(), "check", "--file", candidate, "--seed", books, "--format", "json")
		require.NoError(t, err)

		var resp struct {
			Status string      `json:"status"`
			Data   CheckResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, CheckResult{Kind: "entity", Checks: []string{"uniqueness", "limits"}}, resp.Data)
	})

	t.Run("relation seeds reach the joined kinds", func(t *testing.T) {
		env := baseEnv()
		env["RELATION_RECORD_LIMITS"] = `[{"scope":"where[_listId]=${_listId}&listWhere[_kind]=shelf&entityWhere[_kind]=book","limit":1}]`
		seed := writeFile(t, "relations.json", `[
			{"_collection": "list", "_id": "L1", "_kind": "shelf"},
			{"_collection": "entity", "_id": "E1", "_kind": "book"},
			{"_id": "R1", "_listId": "L1", "_entityId": "E1"}
		]`)
		candidate := writeFile(t, "candidate.json", `{"_listId": "L1", "_entityId": "E9"}`)

		out, err := execute(t, env, "check", "--kind", "relation", "--file", candidate, "--seed", seed)
		require.Error(t, err)
		assert.Contains(t, out, "Error [RELATION-LIMIT-EXCEEDED]")
	})

	t.Run("bad input", func(t *testing.T) {
		candidate := writeFile(t, "candidate.json", `{"_kind": "book"}`)
		notObject := writeFile(t, "array.json", `[1, 2]`)

		for name, args := range map[string][]string{
			"unknown kind":   {"check", "--kind", "comment", "--file", candidate},
			"missing file":   {"check", "--file", filepath.Join(t.TempDir(), "absent.json")},
			"not an object":  {"check", "--file", notObject},
			"seed not array": {"check", "--file", candidate, "--seed", candidate},
		} {
			t.Run(name, func(t *testing.T) {
				out, err := execute(t, baseEnv(), args...)
				require.Error(t, err)
				assert.Equal(t, ExitCommandError, GetExitCode(err))
				assert.Contains(t, out, "Error [INPUT_ERROR]")
			})
		}
	})
}
