package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const input = `{
  "Lattice": {"Name": "Square", "NSublat": 2, "L": [4, 4]},
  "Tau": {"Beta": 0.5, "MaxTauBin": 32},
  "Dyson": {
    "Order": 4,
    "ErrorThreshold": 0.1,
    "SleepTime": 10,
    "Annealing": {"DeltaField": [1, 1], "Interval": [0.1, 0.1]}
  },
  "Model": {"Interaction": [1, 0.5]},
  "Job": {"PID": 7, "WeightFile": "Weight", "DysonOnly": true}
}`

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	p, err := Load(writeInput(t, "_in_DYSON_7", input))
	require.NoError(t, err)

	require.Equal(t, []int{4, 4}, p.Lattice.L)
	require.Equal(t, 0.5, p.Tau.Beta)
	require.Equal(t, 4, p.Dyson.Order)
	require.Equal(t, []float64{0.1, 0.1}, p.Dyson.Annealing.Interval)
	require.True(t, p.Job.DysonOnly)
	require.Equal(t, 7, p.Job.PID)

	// 缺省值
	require.Equal(t, 0, p.Version)
	require.Equal(t, 0, p.Dyson.OrderAccepted)
	require.Equal(t, "J1J2", p.Model.Name)
	require.Equal(t, "Message", p.Job.MessageFile)
	require.Equal(t, []float64{0, 0}, p.Model.ExternalField)

	m, err := p.IndexMap()
	require.NoError(t, err)
	require.Equal(t, 16, m.Vol())
}

func TestLoadYAML(t *testing.T) {
	yaml := `
Lattice: {NSublat: 1, L: [8]}
Tau: {Beta: 1.0, MaxTauBin: 16}
Version: 5
`
	p, err := Load(writeInput(t, "para.yaml", yaml))
	require.NoError(t, err)
	require.Equal(t, 5, p.Version)
	require.Equal(t, 3, p.Dyson.Order)
	require.Equal(t, 0.2, p.Dyson.ErrorThreshold)
}

func TestValidate(t *testing.T) {
	p, err := Load(writeInput(t, "_in_DYSON_7", input))
	require.NoError(t, err)

	bad := *p
	bad.Tau.Beta = 0
	require.Error(t, bad.Validate())

	bad = *p
	bad.Dyson.Annealing.DeltaField = []float64{1, 2, 3}
	require.Error(t, bad.Validate())

	bad = *p
	bad.Dyson.Order = 0
	require.Error(t, bad.Validate())

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestSaveAndReload(t *testing.T) {
	p, err := Load(writeInput(t, "_in_DYSON_7", input))
	require.NoError(t, err)
	p.Version = 12
	p.Dyson.Annealing.DeltaField = []float64{0.9, 0.9}

	workspace := t.TempDir()
	paths := p.Paths(workspace)
	require.Equal(t, filepath.Join(workspace, "7_DYSON_para.json"), paths.Para)
	require.NoError(t, p.Save(paths.Para))

	reloaded, err := Load(paths.Para)
	require.NoError(t, err)
	require.Equal(t, p, reloaded)
}

func TestPaths(t *testing.T) {
	p := &Params{Job: Job{PID: 3, WeightFile: "/abs/Weight", MessageFile: "Message", OutputFile: "out/Output"}}
	paths := p.Paths("/work")
	require.Equal(t, "/abs/Weight.json.zst", paths.Weight)
	require.Equal(t, "/work/Message.json", paths.Message)
	require.Equal(t, "/work/out/Output.json", paths.Output)
	require.Equal(t, "/work/infile/_in_DYSON_3", InputFile("/work", 3))
}
