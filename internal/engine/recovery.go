package engine

import (
	"log/slog"

	"github.com/okarv/stagehand/pkg/api"
)

// recover rebuilds the in-memory index from the store. RUNNING instances
// are re-attached to a fresh stage loop at their last recorded stage; the
// loop re-subscribes for the current stage's deliverable without
// re-announcing it, so stages completed before the crash are neither
// re-executed nor re-dispatched. BLOCKED instances are indexed only; they
// wait for an administrative Resume or RestartFromStage.
//
// A store scan failure yields zero recovered instances and a warning; the
// orchestrator still becomes ready for new work.
func (o *Orchestrator) recover() {
	instances, err := o.store.LoadInFlight()
	if err != nil {
		o.log.Warn("recovery scan failed; starting with an empty index",
			slog.Any("error", err))
		return
	}

	for _, inst := range instances {
		if inst.CurrentStage < 0 || inst.CurrentStage >= len(o.def.Stages) {
			o.log.Warn("recovered instance has an out-of-range stage; leaving it unattached",
				slog.String("instance_id", inst.ID),
				slog.Int("stage_index", inst.CurrentStage))
			continue
		}

		st := &instanceState{inst: inst}

		o.mu.Lock()
		o.instances[inst.ID] = st
		if inst.Status == api.StatusRunning {
			st.running = true
			o.wg.Add(1)
		}
		o.mu.Unlock()

		o.log.Info("recovered in-flight workflow instance",
			slog.String("instance_id", inst.ID),
			slog.String("status", string(inst.Status)),
			slog.Int("stage_index", inst.CurrentStage))

		if inst.Status == api.StatusRunning {
			go o.runDetached(st, inst.CurrentStage, false)
		}
	}
}
