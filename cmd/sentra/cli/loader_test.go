package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(new(bytes.Buffer), nil))
}

const samplePolicy = `{
	"org_units": [
		{"name": "engineering", "kind": "user_ou"}
	],
	"roles": [
		{"name": "clerk"},
		{"name": "teller"}
	],
	"inheritance": [
		{"parent": "clerk", "child": "teller"}
	],
	"admin_roles": [
		{"name": "eng-admin", "begin_range": "clerk", "end_range": "teller", "begin_inclusive": true, "user_ous": ["engineering"]}
	],
	"users": [
		{"name": "alice", "password": "correct-horse", "org_unit": "engineering"}
	],
	"assignments": [
		{"user": "alice", "role": "teller"}
	],
	"permissions": [
		{"object": "account", "operation": "open", "roles": ["clerk"]}
	]
}`

func TestLoadCommandDryJSONSuccess(t *testing.T) {
	cli := NewLoaderCLI(nil, testLogger())

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.LoadCommand(context.Background(), LoadOptions{
		Source:     strings.NewReader(samplePolicy),
		Mode:       LoadModeDry,
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	require.Zero(t, exitCode)
	require.Empty(t, stderr.String())

	var summary LoadSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Equal(t, LoadModeDry, summary.Mode)
	require.Equal(t, 1, summary.OrgUnits)
	require.Equal(t, 2, summary.Roles)
	require.Equal(t, 1, summary.AdminRoles)
	require.Equal(t, 1, summary.Users)
	require.Equal(t, 1, summary.Assignments)
	require.Equal(t, 1, summary.Permissions)
}

func TestLoadCommandRejectsUnknownRole(t *testing.T) {
	policy := `{
		"users": [{"name": "alice"}],
		"assignments": [{"user": "alice", "role": "ghost"}]
	}`
	cli := NewLoaderCLI(nil, testLogger())

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.LoadCommand(context.Background(), LoadOptions{
		Source: strings.NewReader(policy),
		Mode:   LoadModeDry,
		Stdout: stdout,
		Stderr: stderr,
	})
	require.Equal(t, 10, exitCode)
	require.Contains(t, stderr.String(), "assignment alice>ghost")
}

func TestLoadCommandEnforcesSSDWithinFile(t *testing.T) {
	policy := `{
		"roles": [{"name": "clerk"}, {"name": "auditor"}],
		"sd_sets": [
			{"name": "books", "kind": "ssd", "members": ["clerk", "auditor"], "cardinality": 2}
		],
		"users": [{"name": "bob"}],
		"assignments": [
			{"user": "bob", "role": "clerk"},
			{"user": "bob", "role": "auditor"}
		]
	}`
	cli := NewLoaderCLI(nil, testLogger())

	stderr := new(bytes.Buffer)
	exitCode := cli.LoadCommand(context.Background(), LoadOptions{
		Source: strings.NewReader(policy),
		Mode:   LoadModeDry,
		Stdout: new(bytes.Buffer),
		Stderr: stderr,
	})
	require.Equal(t, 10, exitCode)
	require.Contains(t, stderr.String(), "assignment bob>auditor")
}

func TestLoadCommandRejectsUnknownField(t *testing.T) {
	cli := NewLoaderCLI(nil, testLogger())

	stderr := new(bytes.Buffer)
	exitCode := cli.LoadCommand(context.Background(), LoadOptions{
		Source: strings.NewReader(`{"rolez": []}`),
		Mode:   LoadModeDry,
		Stdout: new(bytes.Buffer),
		Stderr: stderr,
	})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "parse policy")
}

func TestLoadCommandInvalidMode(t *testing.T) {
	cli := NewLoaderCLI(nil, testLogger())

	stderr := new(bytes.Buffer)
	exitCode := cli.LoadCommand(context.Background(), LoadOptions{
		Source: strings.NewReader(samplePolicy),
		Mode:   "merge",
		Stdout: new(bytes.Buffer),
		Stderr: stderr,
	})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "invalid mode")
}

func TestLoadCommandApplyRequiresService(t *testing.T) {
	cli := NewLoaderCLI(nil, testLogger())

	stderr := new(bytes.Buffer)
	exitCode := cli.LoadCommand(context.Background(), LoadOptions{
		Source: strings.NewReader(samplePolicy),
		Mode:   LoadModeApply,
		Stdout: new(bytes.Buffer),
		Stderr: stderr,
	})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "apply mode requires")
}
