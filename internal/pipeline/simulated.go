package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"video-job-orchestrator/internal/entity"
)

// SimulatedStage stands in for a real provider: it sleeps through a number of
// steps, reports progress after each and writes a small placeholder artifact.
type SimulatedStage struct {
	name      string
	phase     Phase
	provider  ProviderInfo
	steps     int
	stepDelay time.Duration
	outputDir string
	artifact  string
	kind      string
}

func (s *SimulatedStage) Name() string           { return s.name }
func (s *SimulatedStage) Phase() Phase           { return s.phase }
func (s *SimulatedStage) Provider() ProviderInfo { return s.provider }

func (s *SimulatedStage) Run(ctx context.Context, in Input, report ProgressFunc) ([]entity.Artifact, error) {
	for i := 1; i <= s.steps; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.stepDelay):
		}
		report(Update{
			Percent:     float64(i) * 100 / float64(s.steps),
			Message:     fmt.Sprintf("%s: step %d of %d", s.name, i, s.steps),
			CurrentItem: i,
			TotalItems:  s.steps,
		})
	}

	if s.artifact == "" {
		return nil, nil
	}

	dir := filepath.Join(s.outputDir, in.JobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &entity.UnrecoverableError{
			Code:        entity.CodeStageFailed,
			Message:     "create output directory",
			Remediation: "check output directory permissions",
			Err:         err,
		}
	}

	body, err := json.Marshal(map[string]any{
		"stage":   s.name,
		"topic":   in.Request.Brief.Topic,
		"attempt": in.Attempt,
		"inputs":  len(in.Artifacts),
	})
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, s.artifact)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return nil, entity.Transient(s.provider.Name, err)
	}

	return []entity.Artifact{{
		Name:      s.artifact,
		Path:      path,
		Type:      s.kind,
		SizeBytes: int64(len(body)),
	}}, nil
}

// DefaultStages is the fixed script -> tts -> visuals -> compose -> render order
// wired with simulated providers.
func DefaultStages(outputDir string, stepDelay time.Duration) []Stage {
	mk := func(name string, phase Phase, provider ProviderInfo, steps int, artifact, kind string) Stage {
		return &SimulatedStage{
			name:      name,
			phase:     phase,
			provider:  provider,
			steps:     steps,
			stepDelay: stepDelay,
			outputDir: outputDir,
			artifact:  artifact,
			kind:      kind,
		}
	}

	return []Stage{
		mk("script", PhasePlan, ProviderInfo{Name: "simulated-llm", Type: "llm", SupportsCancellation: true}, 4, "script.json", "script"),
		mk("tts", PhaseTTS, ProviderInfo{Name: "simulated-tts", Type: "tts", SupportsCancellation: true}, 5, "narration.json", "audio"),
		mk("visuals", PhaseVisuals, ProviderInfo{Name: "simulated-images", Type: "image", SupportsCancellation: false}, 8, "visuals.json", "image-set"),
		mk("compose", PhaseCompose, ProviderInfo{Name: "timeline", Type: "composer", SupportsCancellation: true}, 3, "timeline.json", "timeline"),
		mk("render", PhaseRender, ProviderInfo{Name: "simulated-ffmpeg", Type: "renderer", SupportsCancellation: true}, 10, "video.json", "video"),
	}
}
