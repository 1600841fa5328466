package queue

import "github.com/hochfrequenz/oa-pipeline/internal/domain"

// ChainHooks combines hooks so several observers see every event, in order
func ChainHooks(hooks ...Hooks) Hooks {
	return Hooks{
		OnLog: func(e domain.LogEntry) {
			for _, h := range hooks {
				if h.OnLog != nil {
					h.OnLog(e)
				}
			}
		},
		OnStage: func(item domain.WorkItem, s domain.Stage) {
			for _, h := range hooks {
				if h.OnStage != nil {
					h.OnStage(item, s)
				}
			}
		},
		OnOutcome: func(item domain.WorkItem, o domain.Outcome) {
			for _, h := range hooks {
				if h.OnOutcome != nil {
					h.OnOutcome(item, o)
				}
			}
		},
		OnComplete: func(snap domain.RunSnapshot) {
			for _, h := range hooks {
				if h.OnComplete != nil {
					h.OnComplete(snap)
				}
			}
		},
	}
}
