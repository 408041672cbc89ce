package postgresql

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-job-orchestrator/internal/entity"
	"video-job-orchestrator/internal/service"
)

// the repository exposes exactly what the persister drives
var _ service.SnapshotRepository = (*JobRepository)(nil)

func TestDecodeSnapshot(t *testing.T) {
	job := &entity.Job{
		ID:        "job-1",
		Status:    entity.StatusPaused,
		Stage:     "narrate",
		Phase:     "tts",
		Percent:   22,
		Artifacts: []entity.Artifact{{Name: "script.out", Path: "/out/job-1/script"}},
		NextStage: 1,
		Version:   7,
	}
	raw, err := json.Marshal(job)
	require.NoError(t, err)

	got, err := decodeSnapshot(raw)
	require.NoError(t, err)
	assert.Equal(t, "tts", got.Phase)
	assert.Equal(t, 1, got.NextStage)
	assert.Equal(t, job.Artifacts, got.Artifacts)
	assert.EqualValues(t, 7, got.Version)

	_, err = decodeSnapshot([]byte(`{"id":`))
	assert.Error(t, err)
}
