package jobrun

const (
	// WorkflowName must match the literal used by services.JobService.
	WorkflowName    = "generation_job"
	ActivityExecute = "generation_job_execute"
)

type ExecuteResult struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Attempt int    `json:"attempt"`
}
