package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// ErrorHandler logs job errors and panics. For re-embedding jobs it decodes the
// args so the log line names the recipe that failed, not just the job id.
type ErrorHandler struct {
	logger *slog.Logger
}

// NewErrorHandler creates an ErrorHandler. A nil logger uses slog's default.
func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &ErrorHandler{logger: logger}
}

// HandleError is called when a job returns an error. Returning nil keeps
// River's default retry behavior.
func (h *ErrorHandler) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	attrs := append(jobAttrs(job),
		slog.Int("attempt", job.Attempt),
		slog.Int("max_attempts", job.MaxAttempts),
		slog.Any("error", err),
	)

	msg := "job failed"
	if job.Attempt >= job.MaxAttempts {
		msg = "job failed permanently"
	}

	h.logger.LogAttrs(ctx, slog.LevelError, msg, attrs...)

	return nil
}

// HandlePanic is called when a job panics. Returning nil marks the job as
// errored so it retries.
func (h *ErrorHandler) HandlePanic(ctx context.Context, job *rivertype.JobRow, panicVal any, trace string) *river.ErrorHandlerResult {
	attrs := append(jobAttrs(job),
		slog.Int("attempt", job.Attempt),
		slog.Any("panic_value", panicVal),
		slog.String("stack_trace", trace),
	)

	h.logger.LogAttrs(ctx, slog.LevelError, "job panicked", attrs...)

	return nil
}

// jobAttrs identifies the job in log lines. Re-embedding jobs carry the
// collection and recipe id from their args.
func jobAttrs(job *rivertype.JobRow) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("job_kind", job.Kind),
		slog.Int64("job_id", job.ID),
	}

	if job.Kind != (ReembedJobArgs{}).Kind() {
		return attrs
	}

	var args ReembedJobArgs
	if err := json.Unmarshal(job.EncodedArgs, &args); err != nil {
		return attrs
	}

	return append(attrs,
		slog.String("collection", args.Collection),
		slog.String("recipe_id", args.RecipeID),
	)
}
