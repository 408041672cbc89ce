package cancellation_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-job-orchestrator/internal/cancellation"
	"video-job-orchestrator/internal/pipeline"
)

func TestCancelJob_NoProviders(t *testing.T) {
	o := cancellation.NewOrchestrator(time.Minute)

	res := o.CancelJob("job")
	assert.True(t, res.Success)
	assert.False(t, res.NoActionNeeded)
	assert.Empty(t, res.ProviderStatuses)
}

func TestCancelJob_MixedProviders(t *testing.T) {
	o := cancellation.NewOrchestrator(time.Minute)

	var ttsCancelled int
	o.Register("job", pipeline.ProviderInfo{Name: "tts", Type: "tts", SupportsCancellation: true}, func() error {
		ttsCancelled++
		return nil
	})
	o.Register("job", pipeline.ProviderInfo{Name: "images", Type: "image", SupportsCancellation: false}, nil)
	o.Register("job", pipeline.ProviderInfo{Name: "ffmpeg", Type: "renderer", SupportsCancellation: true}, func() error {
		return errors.New("process already exited")
	})
	o.Register("other", pipeline.ProviderInfo{Name: "llm", SupportsCancellation: true}, func() error {
		t.Fatal("provider of another job must not be cancelled")
		return nil
	})

	res := o.CancelJob("job")
	require.Len(t, res.ProviderStatuses, 3)
	assert.True(t, res.Success)
	assert.Equal(t, 1, ttsCancelled)

	assert.Equal(t, cancellation.StatusCancelled, res.ProviderStatuses[0].Status)
	assert.Empty(t, res.ProviderStatuses[0].Warning)
	assert.Equal(t, cancellation.StatusNotSupported, res.ProviderStatuses[1].Status)
	assert.Contains(t, res.ProviderStatuses[1].Warning, "does not support cancellation")
	assert.Equal(t, cancellation.StatusFailed, res.ProviderStatuses[2].Status)
	assert.Len(t, res.Warnings, 2)
}

func TestCancelJob_Idempotent(t *testing.T) {
	o := cancellation.NewOrchestrator(time.Minute)

	calls := 0
	o.Register("job", pipeline.ProviderInfo{Name: "tts", SupportsCancellation: true}, func() error {
		calls++
		return nil
	})

	first := o.CancelJob("job")
	second := o.CancelJob("job")

	assert.False(t, first.NoActionNeeded)
	assert.True(t, second.NoActionNeeded)
	assert.Equal(t, first.ProviderStatuses, second.ProviderStatuses)
	assert.Equal(t, 1, calls)
}

func TestMarkAbandoned_FlagsProviderInRecordedResult(t *testing.T) {
	o := cancellation.NewOrchestrator(time.Minute)

	assert.False(t, o.MarkAbandoned("job", "images", "too late"), "job was never cancelled")

	o.Register("job", pipeline.ProviderInfo{Name: "images", Type: "image", SupportsCancellation: false}, nil)
	first := o.CancelJob("job")
	require.Len(t, first.ProviderStatuses, 1)
	assert.Equal(t, cancellation.StatusNotSupported, first.ProviderStatuses[0].Status)

	require.True(t, o.MarkAbandoned("job", "images", "stage visuals was abandoned"))

	got := o.Recorded("job", "already cancelled")
	assert.True(t, got.NoActionNeeded)
	assert.Equal(t, "already cancelled", got.Message)
	require.Len(t, got.ProviderStatuses, 1)
	assert.Equal(t, cancellation.StatusAbandoned, got.ProviderStatuses[0].Status)
	assert.Equal(t, "stage visuals was abandoned", got.ProviderStatuses[0].Warning)
	assert.Equal(t, []string{first.Warnings[0], "stage visuals was abandoned"}, got.Warnings)

	// the first result handed out is not mutated
	assert.Equal(t, cancellation.StatusNotSupported, first.ProviderStatuses[0].Status)
	assert.Equal(t, got.ProviderStatuses, o.CancelJob("job").ProviderStatuses)
}

func TestRecorded_UnknownJob(t *testing.T) {
	o := cancellation.NewOrchestrator(time.Minute)

	got := o.Recorded("job", "job is already Succeeded")
	assert.True(t, got.NoActionNeeded)
	assert.Empty(t, got.ProviderStatuses)
	assert.Empty(t, got.Warnings)
}

func TestRegister_ReleaseRemovesProvider(t *testing.T) {
	o := cancellation.NewOrchestrator(time.Minute)

	release := o.Register("job", pipeline.ProviderInfo{Name: "tts"}, nil)
	assert.Equal(t, 1, o.Active("job"))
	release()
	assert.Equal(t, 0, o.Active("job"))

	o.CancelJob("job")
	o.Forget("job")
	assert.False(t, o.CancelJob("job").NoActionNeeded)
}
