package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/dispatch/internal/config"
	"github.com/felixgeelhaar/dispatch/internal/errors"
	"github.com/felixgeelhaar/dispatch/internal/exitcode"
	"github.com/felixgeelhaar/dispatch/internal/finding"
	"github.com/felixgeelhaar/dispatch/internal/health"
	"github.com/felixgeelhaar/dispatch/internal/log"
	"github.com/felixgeelhaar/dispatch/internal/plan"
)

const testConfig = `
audit:
  sink: file
  dir: %AUDIT%
log:
  level: error
evaluation:
  enabled: true
capabilities:
  - name: general
    kind: echo
    description: General reasoning
  - name: k8s-readonly
    kind: fixture
    description: Read-only cluster access
    tools: [kubectl_get, kubectl_logs]
    output: "pod api-7f9 is in CrashLoopBackOff"
  - name: k8s-ops
    kind: fixture
    description: Cluster operations
    output: "run kubectl delete pod api-7f9 to recover"
`

const successPlan = `
execution_mode: sequential
tasks:
  - name: fetch-pods
    capability: k8s-readonly
    description: List pods in the checkout namespace
  - name: summarize
    capability: general
    description: Summarize the pod state
    depends_on: [fetch-pods]
`

const partialPlan = `
execution_mode: parallel
tasks:
  - name: fetch-pods
    capability: k8s-readonly
    description: List pods
  - name: remediate
    capability: k8s-ops
    description: Propose a remediation
  - name: report
    capability: general
    description: Write the incident report
    depends_on: [remediate]
`

const cyclicPlan = `
tasks:
  - name: a
    capability: general
    description: first
    depends_on: [b]
  - name: b
    capability: general
    description: second
    depends_on: [a]
`

func resetFlags() {
	cfgFile = ""
	logLevel = ""
	logFormat = ""
	noColor = true
	outputFormat = "text"

	runPlanFile = ""
	runRequestID = ""
	runObjective = ""
	runMetricsAddr = ""
	runFailFast = false

	planFile = ""
	replayList = false
	versionShort = false
}

// setup writes a config file and returns its path together with a
// directory for plan files.
func setup(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := bytes.ReplaceAll([]byte(testConfig), []byte("%AUDIT%"), []byte(filepath.Join(dir, "audit")))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, cfg, 0600))
	return path, dir
}

func writePlan(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeAggregate(t *testing.T, out string) finding.Aggregate {
	t.Helper()
	var agg finding.Aggregate
	require.NoError(t, json.Unmarshal([]byte(out), &agg), out)
	return agg
}

func TestRun_Succeeds(t *testing.T) {
	cfgPath, dir := setup(t)
	planPath := writePlan(t, dir, "plan.yaml", successPlan)

	out, err := execute(t, "run", "--config", cfgPath, "--plan", planPath,
		"--request-id", "req-ok", "--objective", "Why is checkout failing?", "--format", "json")
	require.NoError(t, err)

	agg := decodeAggregate(t, out)
	assert.Equal(t, "req-ok", agg.RequestID)
	assert.Equal(t, finding.StatusFullySucceeded, agg.Status)
	assert.Equal(t, [][]string{{"fetch-pods"}, {"summarize"}}, agg.Layers)
	assert.Equal(t, []string{"fetch-pods", "summarize"}, agg.Succeeded)
	require.Len(t, agg.Findings, 2)
	assert.Contains(t, agg.Findings[1].ValidatedOutput, "upstream fetch-pods")

	_, statErr := os.Stat(filepath.Join(dir, "audit", "req-ok.jsonl"))
	assert.NoError(t, statErr, "audit file should exist")
}

func TestRun_ReusedRequestID(t *testing.T) {
	cfgPath, dir := setup(t)
	planPath := writePlan(t, dir, "plan.yaml", successPlan)

	_, err := execute(t, "run", "--config", cfgPath, "--plan", planPath, "--request-id", "req-twice")
	require.NoError(t, err)

	out, err := execute(t, "run", "--config", cfgPath, "--plan", planPath, "--request-id", "req-twice")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeAuditDuplicateID))
	assert.Equal(t, exitcode.UsageError, exitcode.DetermineExitCode(err))
	assert.Empty(t, out)

	_, err = execute(t, "replay", "--config", cfgPath, "req-twice")
	assert.NoError(t, err, "the first run must still replay")
}

func TestRun_TextOutput(t *testing.T) {
	cfgPath, dir := setup(t)
	planPath := writePlan(t, dir, "plan.yaml", successPlan)

	out, err := execute(t, "run", "--config", cfgPath, "--plan", planPath, "--request-id", "req-text")
	require.NoError(t, err)
	assert.Contains(t, out, "Run req-text")
	assert.Contains(t, out, "fully_succeeded")
	assert.Contains(t, out, "2 succeeded, 0 failed, 0 skipped")
}

func TestRun_PartialSuccess(t *testing.T) {
	cfgPath, dir := setup(t)
	planPath := writePlan(t, dir, "plan.yaml", partialPlan)

	out, err := execute(t, "run", "--config", cfgPath, "--plan", planPath, "--request-id", "req-partial", "--format", "json")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeRunPartial))
	assert.Equal(t, exitcode.PartialSuccess, exitcode.DetermineExitCode(err))

	agg := decodeAggregate(t, out)
	assert.Equal(t, finding.StatusPartiallySucceeded, agg.Status)
	assert.Equal(t, []string{"fetch-pods"}, agg.Succeeded)
	require.Len(t, agg.Failed, 1)
	assert.Equal(t, "remediate", agg.Failed[0].TaskName)
	assert.Equal(t, "safety.k8s_mutating", agg.Failed[0].PolicyID)
	require.Len(t, agg.Skipped, 1)
	assert.Equal(t, "report", agg.Skipped[0].TaskName)
}

func TestRun_RejectedPlan(t *testing.T) {
	cfgPath, dir := setup(t)
	planPath := writePlan(t, dir, "plan.yaml", cyclicPlan)

	out, err := execute(t, "run", "--config", cfgPath, "--plan", planPath, "--format", "json")
	require.Error(t, err)

	var ce *plan.CompileError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, plan.KindCycle, ce.Kind)
	assert.Equal(t, exitcode.PlanRejected, exitcode.DetermineExitCode(err))

	agg := decodeAggregate(t, out)
	assert.Equal(t, finding.StatusFailedToStart, agg.Status)
	assert.Empty(t, agg.Findings)
}

func TestRun_UsageErrors(t *testing.T) {
	cfgPath, dir := setup(t)
	planPath := writePlan(t, dir, "plan.yaml", successPlan)

	tests := []struct {
		name string
		args []string
	}{
		{"missing plan", []string{"run", "--config", cfgPath}},
		{"unknown flag", []string{"run", "--config", cfgPath, "--plan", planPath, "--bogus"}},
		{"unknown format", []string{"run", "--config", cfgPath, "--plan", planPath, "--format", "xml"}},
		{"positional args", []string{"run", "--config", cfgPath, "--plan", planPath, "extra"}},
		{"bad log level", []string{"run", "--config", cfgPath, "--plan", planPath, "--log-level", "loud"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, exitcode.UsageError, exitcode.DetermineExitCode(err))
		})
	}
}

func TestRun_MissingPlanFile(t *testing.T) {
	cfgPath, dir := setup(t)

	_, err := execute(t, "run", "--config", cfgPath, "--plan", filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodePlanNotFound))
}

func TestReplay(t *testing.T) {
	cfgPath, dir := setup(t)
	planPath := writePlan(t, dir, "plan.yaml", partialPlan)

	_, err := execute(t, "run", "--config", cfgPath, "--plan", planPath, "--request-id", "req-replay")
	require.Error(t, err)

	out, err := execute(t, "replay", "req-replay", "--config", cfgPath, "--format", "json")
	require.NoError(t, err)

	var got struct {
		RequestID  string            `json:"request_id"`
		Events     int               `json:"events"`
		Consistent bool              `json:"consistent"`
		Recomputed finding.Aggregate `json:"recomputed"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	assert.Equal(t, "req-replay", got.RequestID)
	assert.True(t, got.Consistent)
	assert.Greater(t, got.Events, 3)
	assert.Equal(t, finding.StatusPartiallySucceeded, got.Recomputed.Status)

	out, err = execute(t, "replay", "--list", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "req-replay")
}

func TestReplay_UnknownRequest(t *testing.T) {
	cfgPath, _ := setup(t)

	_, err := execute(t, "replay", "req-missing", "--config", cfgPath)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeAuditNotFound))
}

func TestReplay_Args(t *testing.T) {
	cfgPath, _ := setup(t)

	_, err := execute(t, "replay", "--config", cfgPath)
	assert.Equal(t, exitcode.UsageError, exitcode.DetermineExitCode(err))

	_, err = execute(t, "replay", "a", "--list", "--config", cfgPath)
	assert.Equal(t, exitcode.UsageError, exitcode.DetermineExitCode(err))
}

func TestPlanLayers(t *testing.T) {
	cfgPath, dir := setup(t)
	planPath := writePlan(t, dir, "plan.yaml", partialPlan)

	out, err := execute(t, "plan", "layers", "--config", cfgPath, "--plan", planPath, "--format", "json")
	require.NoError(t, err)

	var got struct {
		Mode   string     `json:"execution_mode"`
		Layers [][]string `json:"layers"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	assert.Equal(t, "parallel", got.Mode)
	assert.Equal(t, [][]string{{"fetch-pods", "remediate"}, {"report"}}, got.Layers)
}

func TestPlanValidate(t *testing.T) {
	cfgPath, dir := setup(t)

	out, err := execute(t, "plan", "validate", "--config", cfgPath, "--plan", writePlan(t, dir, "ok.yaml", successPlan))
	require.NoError(t, err)
	assert.Contains(t, out, "plan is valid: 2 tasks in 2 layers")

	unknown := `
tasks:
  - name: a
    capability: db-admin
    description: drop everything
`
	_, err = execute(t, "plan", "validate", "--config", cfgPath, "--plan", writePlan(t, dir, "bad.yaml", unknown))
	var ce *plan.CompileError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, plan.KindUnknownCapability, ce.Kind)
}

func TestCapabilities(t *testing.T) {
	cfgPath, _ := setup(t)

	out, err := execute(t, "capabilities", "--config", cfgPath, "--format", "json")
	require.NoError(t, err)

	var got []struct {
		Name    string   `json:"name"`
		Tools   []string `json:"tools"`
		Healthy bool     `json:"healthy"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	require.Len(t, got, 3)
	assert.Equal(t, "general", got[0].Name)
	assert.Equal(t, "k8s-ops", got[1].Name)
	assert.Equal(t, []string{"kubectl_get", "kubectl_logs"}, got[2].Tools)
	assert.True(t, got[2].Healthy)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.NotEmpty(t, bytes.TrimSpace([]byte(out)))

	out, err = execute(t, "version", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"go_version"`)
}

func TestBuildRegistry(t *testing.T) {
	_, err := buildRegistry([]config.CapabilityConfig{
		{Name: "general", Kind: config.KindEcho},
		{Name: "general", Kind: config.KindEcho},
	}, 0)
	assert.True(t, errors.HasCode(err, errors.ErrCodeCapabilityDuplicate))

	_, err = buildRegistry([]config.CapabilityConfig{{Name: "general", Kind: "llm"}}, 0)
	assert.ErrorContains(t, err, "unknown worker kind")

	_, err = buildRegistry([]config.CapabilityConfig{{Name: "shell", Kind: config.KindExec, Command: "definitely-not-a-real-binary"}}, 0)
	assert.ErrorContains(t, err, "executable not found")
}

func TestOpenAuditStore(t *testing.T) {
	logger := log.Discard()

	for _, sink := range []string{config.SinkMemory, config.SinkFile, config.SinkBadger} {
		t.Run(sink, func(t *testing.T) {
			store, err := openAuditStore(config.AuditConfig{Sink: sink, Dir: t.TempDir()}, logger)
			require.NoError(t, err)
			ids, err := store.RequestIDs(context.Background())
			require.NoError(t, err)
			assert.Empty(t, ids)
			assert.NoError(t, store.Close())
		})
	}

	_, err := openAuditStore(config.AuditConfig{Sink: "s3"}, logger)
	assert.Error(t, err)
}

func TestLoadPipeline(t *testing.T) {
	pipe, err := loadPipeline("")
	require.NoError(t, err)
	assert.NotEmpty(t, pipe.HardConstraints())

	_, err = loadPipeline(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.HasCode(err, errors.ErrCodePolicyNotFound))
}

func TestDoctor(t *testing.T) {
	cfgPath, _ := setup(t)

	out, err := execute(t, "doctor", "--config", cfgPath, "--format", "json")
	require.NoError(t, err)

	var got struct {
		Status string `json:"status"`
		Checks []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	assert.Equal(t, "healthy", got.Status)
	require.Len(t, got.Checks, 3)
	assert.Equal(t, "audit-dir", got.Checks[0].Name)
	assert.Equal(t, "audit-store", got.Checks[1].Name)
	assert.Equal(t, "policy", got.Checks[2].Name)
}

func TestDoctor_MissingWorkerExecutable(t *testing.T) {
	cfg := config.Default()
	cfg.Audit.Sink = config.SinkMemory
	cfg.Capabilities = append(cfg.Capabilities, config.CapabilityConfig{
		Name: "shell", Kind: config.KindExec, Command: "definitely-not-a-real-binary",
	})

	m := newHealthManager(cfg, log.Discard())
	results := m.Check(context.Background())
	require.Len(t, results, 3)
	assert.Equal(t, "worker-shell", results[2].Name)
	assert.Equal(t, health.StatusUnhealthy, results[2].Status)
}
