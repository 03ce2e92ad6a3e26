package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFlags(t *testing.T) {
	cfg, err := Load([]string{
		"-mission", "173567",
		"-source", "s3://survey-files/images",
		"-save", "s3://survey-files/out",
		"-edge-model", "s3://models/edge.pth",
		"-boundary-model", "s3://models/boundary.pth",
		"-serve", "8090",
	})
	require.Error(t, err, "command backends need commands")

	t.Setenv("WIREFRAME_MODEL_BACKEND", "fake")
	t.Setenv("WIREFRAME_CONVERT_COMMAND", "image2geojson --verbose")
	cfg, err = Load([]string{
		"-mission", "173567",
		"-source", "s3://survey-files/images",
		"-save", "s3://survey-files/out",
		"-edge-model", "s3://models/edge.pth",
		"-boundary-model", "s3://models/boundary.pth",
		"-serve", "8090",
	})
	require.NoError(t, err)
	assert.Equal(t, "173567", cfg.Run.MissionID)
	assert.Equal(t, "s3://survey-files/images", cfg.Run.SourceDir)
	assert.Equal(t, map[string]string{"roof_edge": "s3://models/edge.pth", "boundary": "s3://models/boundary.pth"}, cfg.Run.Models)
	assert.Equal(t, ":8090", cfg.Serve.Addr)
	assert.Equal(t, []string{"image2geojson", "--verbose"}, cfg.Convert.Command)
	assert.Equal(t, "disk", cfg.Artifact.Backend)
	assert.True(t, cfg.Artifact.Cache.Enabled)
	assert.Equal(t, uint8(127), cfg.Convert.Thin.ThresholdValue())
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wireframe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
run:
  mission_id: from-file
  source_dir: /images
  save_dir: /out
  models:
    roof_edge: /models/edge.pth
artifact:
  backend: s3
  s3:
    endpoint: minio:9000
    bucket: survey-files
  retry:
    attempts: 5
    base_delay: 50ms
transform:
  backend: native
model:
  backend: fake
convert:
  backend: fake
  thin:
    threshold: 200
runlog:
  backend: memory
`), 0o644))

	t.Setenv("WIREFRAME_MISSION_ID", "from-env")
	t.Setenv("ARTIFACT_S3_USE_SSL", "false")
	cfg, err := Load([]string{"-config", path, "-save", "/flag-out"})
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Run.MissionID)
	assert.Equal(t, "/images", cfg.Run.SourceDir)
	assert.Equal(t, "/flag-out", cfg.Run.SaveDir)
	assert.Equal(t, "/models/edge.pth", cfg.Run.Models["roof_edge"])
	assert.Equal(t, "s3", cfg.Artifact.Backend)
	assert.Equal(t, "survey-files", cfg.Artifact.S3.Bucket)
	assert.False(t, cfg.Artifact.S3.UseSSL)
	assert.Equal(t, "us-east-1", cfg.Artifact.S3.Region)
	assert.Equal(t, 5, cfg.Artifact.Retry.Attempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Artifact.Retry.BaseDelay)
	assert.Equal(t, "native", cfg.Transform.Backend)
	assert.Equal(t, uint8(200), cfg.Convert.Thin.ThresholdValue())
	assert.Equal(t, "memory", cfg.RunLog.Backend)
}

func TestLoadPostgresDSNSelectsBackend(t *testing.T) {
	t.Setenv("WIREFRAME_MODEL_BACKEND", "fake")
	t.Setenv("WIREFRAME_CONVERT_BACKEND", "fake")
	t.Setenv("RUNLOG_PG_DSN", "postgres://localhost/wireframe")
	cfg, err := Load([]string{"-mission", "1", "-source", "/images", "-save", "/out"})
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.RunLog.Backend)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Artifact.Backend = "ftp"
	cfg.Transform.Backend = "imagemagick"
	cfg.RunLog.Backend = "postgres"
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"mission id is required",
		"source directory is required",
		"save directory is required",
		`unknown artifact backend "ftp"`,
		`unknown transform backend "imagemagick"`,
		"model.command is required",
		"convert.command is required",
		"runlog.dsn is required",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("WIREFRAME_ARTIFACT_RETRIES", "many")
	_, err := Load([]string{"-mission", "1", "-source", "/images", "-save", "/out"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WIREFRAME_ARTIFACT_RETRIES")
}
