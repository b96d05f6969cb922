package domain

import "context"

// JobRepository is the persistence collaborator of the pipeline.
type JobRepository interface {
	// GetJob loads the job, its characters and its progress document.
	GetJob(ctx context.Context, jobID string) (*Job, error)
	// MergeProgress applies update atomically: the accumulator patch is
	// shallow-unioned into the stored data, the progress stage only moves
	// forward and the status changes only along allowed transitions.
	MergeProgress(ctx context.Context, jobID string, update ProgressUpdate) error
	// ConsumeRegenerationCredit atomically decrements the job's credits if
	// positive and returns the remaining count, or ErrCreditExhausted.
	ConsumeRegenerationCredit(ctx context.Context, jobID string) (int, error)
	// RefundRegenerationCredit gives back a credit reserved by ConsumeRegenerationCredit.
	RefundRegenerationCredit(ctx context.Context, jobID string) error
	// ReplaceSceneIllustration swaps the illustration of sceneNumber in the stored
	// book and in its sceneImage accumulator entry.
	ReplaceSceneIllustration(ctx context.Context, jobID string, sceneNumber int, url string, seed int64) error
	// GrantRegenerationCredits adds n credits to a job.
	GrantRegenerationCredits(ctx context.Context, jobID string, n int) (int, error)
	// MarkFailed moves the job to failed and records message.
	MarkFailed(ctx context.Context, jobID, message string) error
}

// SessionRepository is a JobRepository that can pin a consistent session and
// offers the documented fallback read path.
type SessionRepository interface {
	JobRepository
	// Session returns a repository bound to one connection for the whole
	// pipeline invocation, and its release func.
	Session(ctx context.Context) (JobRepository, func(), error)
	// GetJobDirect reads the job bypassing the session, on a fresh connection.
	GetJobDirect(ctx context.Context, jobID string) (*Job, error)
}
