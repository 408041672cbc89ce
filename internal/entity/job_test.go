package entity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-job-orchestrator/internal/entity"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to entity.JobStatus
		want     bool
	}{
		{entity.StatusQueued, entity.StatusRunning, true},
		{entity.StatusQueued, entity.StatusCanceled, true},
		{entity.StatusQueued, entity.StatusPaused, false},
		{entity.StatusQueued, entity.StatusFailed, true},
		{entity.StatusRunning, entity.StatusPaused, true},
		{entity.StatusPaused, entity.StatusRunning, true},
		{entity.StatusRunning, entity.StatusSucceeded, true},
		{entity.StatusSucceeded, entity.StatusRunning, false},
		{entity.StatusCanceled, entity.StatusQueued, false},
		{entity.StatusFailed, entity.StatusQueued, true},
		{entity.StatusFailed, entity.StatusRunning, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, entity.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestJob_SetPercentNeverRegresses(t *testing.T) {
	j := &entity.Job{}
	j.SetPercent(40)
	j.SetPercent(10)
	assert.Equal(t, 40, j.Percent)
	j.SetPercent(250)
	assert.Equal(t, 100, j.Percent)
}

func TestJob_CloneIsDeep(t *testing.T) {
	now := time.Now().UTC()
	j := &entity.Job{ID: "a", StartedAt: &now, FailureDetails: &entity.FailureDetails{Stage: "tts"}}
	j.AppendLog(now, "one")
	j.Artifacts = append(j.Artifacts, entity.Artifact{Name: "script"})

	c := j.Clone()
	c.Logs[0].Message = "changed"
	c.Artifacts[0].Name = "changed"
	c.FailureDetails.Stage = "render"
	*c.StartedAt = now.Add(time.Hour)

	require.Equal(t, "one", j.Logs[0].Message)
	require.Equal(t, "script", j.Artifacts[0].Name)
	require.Equal(t, "tts", j.FailureDetails.Stage)
	require.Equal(t, now, *j.StartedAt)
}

func TestJob_TailLogs(t *testing.T) {
	j := &entity.Job{}
	for _, m := range []string{"a", "b", "c"} {
		j.AppendLog(time.Now(), m)
	}
	tail := j.TailLogs(2)
	require.Len(t, tail, 2)
	assert.Equal(t, "b", tail[0].Message)
	assert.Len(t, j.TailLogs(0), 3)
}
