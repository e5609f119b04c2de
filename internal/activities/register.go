package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.LoadRetryTargetActivity)
	w.RegisterActivity(a.RequeueStageActivity)
}
