package runtime

import (
	"context"

	"github.com/Minimega12121/compss/internal/app"
	"github.com/Minimega12121/compss/internal/observability"
)

// Runtime implements app.Monitor so every Application it creates reports
// group and lifecycle events back through the same checkpoint/observability
// path, without app importing either package.
var _ app.Monitor = (*Runtime)(nil)

func (rt *Runtime) TaskGroupOpened(appID app.ID, group string) {
	rt.logger.Info("task group opened", "app", appID, "group", group)
	observability.Default.IncCounter("compss_task_groups_opened_total", map[string]string{"group": group}, 1)
}

func (rt *Runtime) TaskGroupClosed(appID app.ID, group string) {
	rt.logger.Info("task group closed", "app", appID, "group", group)
	observability.Default.IncCounter("compss_task_groups_closed_total", map[string]string{"group": group}, 1)
}

func (rt *Runtime) ApplicationEnded(appID app.ID) {
	rt.an.CloseAllGroups()
	rt.checkpoint.EndTask(context.Background(), 0, "application_ended:"+string(appID))
	rt.logger.Info("application ended", "app", appID)
}
