package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFile_MissingFileUsesDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := LoadConfigFile("absent.json")
	require.NoError(t, err)
	require.Equal(t, BackendOnnx, cfg.Backend)
	require.Equal(t, DefaultConfidence, cfg.GetConfidence())
	require.Equal(t, DefaultModelPath, cfg.GetModelPath())
	require.Equal(t, DefaultClasses, cfg.Model.Classes)
}

func TestLoadConfigFile_NormalizesOutOfRangeValues(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	path := filepath.Join(dir, "config.json")
	body := `{"backend":"bogus","confidence":250,"model":{"input_size":600,"iou_threshold":3}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.Equal(t, BackendOnnx, cfg.Backend)
	require.Equal(t, DefaultConfidence, cfg.Confidence)
	require.Equal(t, DefaultInputSize, cfg.Model.InputSize)
	require.InDelta(t, DefaultIOUThreshold, cfg.Model.IOUThreshold, 1e-6)
}

func TestLoadConfigFile_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DEFECT_BACKEND", "remote")
	t.Setenv("DEFECT_REMOTE_HOST", "inspector:9000")
	t.Setenv("DEFECT_USE_CUDA", "true")
	t.Setenv("DEFECT_BATCH_DIR", "scans/today")

	cfg, err := LoadConfigFile("absent.json")
	require.NoError(t, err)
	require.Equal(t, BackendRemote, cfg.Backend)
	require.Equal(t, "inspector:9000", cfg.Remote.Host)
	require.True(t, cfg.Model.UseCuda)
	require.Equal(t, "scans/today", cfg.GetBatchDir())
}

func TestLoadConfigFile_BrokenJSONKeepsEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("DEFECT_REMOTE_HOST", "inspector:9000")

	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))

	cfg, err := LoadConfigFile(path)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrClassesFile)
	require.NotNil(t, cfg)
	require.Equal(t, DefaultConfidence, cfg.Confidence)
	require.Equal(t, "inspector:9000", cfg.Remote.Host)
	require.Equal(t, path, cfg.Path())
}

func TestLoadConfigFile_MissingClassesFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	path := filepath.Join(dir, "config.json")
	body := `{"confidence":70,"model":{"classes_file":"absent.yaml"}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := LoadConfigFile(path)
	require.ErrorIs(t, err, ErrClassesFile)
	require.Equal(t, 70, cfg.GetConfidence())
	require.Equal(t, DefaultClasses, cfg.Model.Classes)
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	cfg := NewDefaultConfig()
	cfg.SetConfidence(35)
	path := filepath.Join(dir, "out.json")
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.Equal(t, 35, loaded.GetConfidence())
}

func TestConfig_SaveByDefaultWritesLoadedFileOnly(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("DEFECT_MODEL_PATH", "/tmp/override.onnx")

	path := filepath.Join(dir, "custom.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"confidence": 70, "backend": "remote"}`), 0644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/override.onnx", cfg.GetModelPath())

	cfg.SetConfidence(30)
	require.NoError(t, cfg.SaveByDefault())

	_, err = os.Stat(filepath.Join(dir, DefaultConfigPath))
	require.ErrorIs(t, err, os.ErrNotExist)

	var saved map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &saved))
	require.EqualValues(t, 30, saved["confidence"])
	require.Equal(t, "remote", saved["backend"])
	require.Equal(t, DefaultModelPath, saved["model"].(map[string]any)["path"])
}

func TestConfig_SaveKeepsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))

	require.Error(t, NewDefaultConfig().Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "{", string(data))
}

func TestParseClasses(t *testing.T) {
	list, err := ParseClasses([]byte("path: data\nnames: [crazing, scratches]\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"crazing", "scratches"}, list)

	byIndex, err := ParseClasses([]byte("names:\n  1: patches\n  0: inclusion\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"inclusion", "patches"}, byIndex)

	_, err = ParseClasses([]byte("names:\n  0: a\n  2: c\n"))
	require.Error(t, err)

	_, err = ParseClasses([]byte("train: images/train\n"))
	require.Error(t, err)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(prev)) })
}
