package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"storybook/internal/pipeline"
)

const (
	// TaskTypeStage runs one pipeline stage.
	TaskTypeStage = "book:stage"
	// QueueBooks is the queue every stage task is placed on.
	QueueBooks = "books"
)

// StagePayload identifies the unit of work of a stage task. RunID is minted
// by Start and inherited by every stage enqueued from that run.
type StagePayload struct {
	JobID      string         `json:"jobId"`
	Stage      pipeline.Stage `json:"stage"`
	SceneIndex int            `json:"sceneIndex"`
	RunID      string         `json:"runId,omitempty"`
}

// TaskID is the deduplication id of a unit of work within one run; finalize
// is keyed by job only. asynq keeps the ids of archived tasks, so a resumed
// run must not reuse the ids of the run that failed.
func (p StagePayload) TaskID() string {
	var id string
	switch {
	case p.Stage == pipeline.StageFinalize:
		id = "finalize:" + p.JobID
	case p.Stage.PerScene():
		id = fmt.Sprintf("%s:%s:%d", p.Stage, p.JobID, p.SceneIndex)
	default:
		id = fmt.Sprintf("%s:%s", p.Stage, p.JobID)
	}
	if p.RunID != "" {
		id += "@" + p.RunID
	}
	return id
}

func (p StagePayload) request() pipeline.Request {
	return pipeline.Request{JobID: p.JobID, Stage: p.Stage, SceneIndex: p.SceneIndex}
}

// NewStageTask builds the task of one stage invocation.
func NewStageTask(p StagePayload, maxRetry int, timeout time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode stage payload: %w", err)
	}
	opts := []asynq.Option{
		asynq.Queue(QueueBooks),
		asynq.MaxRetry(maxRetry),
		asynq.TaskID(p.TaskID()),
	}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	return asynq.NewTask(TaskTypeStage, payload, opts...), nil
}

// ParseStagePayload decodes a stage task.
func ParseStagePayload(t *asynq.Task) (StagePayload, error) {
	var p StagePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode stage payload: %w", err)
	}
	if p.JobID == "" {
		return p, errors.New("stage payload has no job id")
	}
	if _, err := pipeline.ParseStage(string(p.Stage)); err != nil {
		return p, err
	}
	return p, nil
}
