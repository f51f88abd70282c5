package conversion

import (
	"context"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const TypeSweepFlush = "conversion:sweep_flush"

func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TypeSweepFlush, nil, asynq.MaxRetry(3), asynq.Queue("low"))
}

// TaskHandler runs queued sweeps on the asynq worker.
type TaskHandler struct {
	sweeper *Sweeper
}

type TaskHandlerParams struct {
	fx.In
	Sweeper *Sweeper
}

func NewTaskHandler(p TaskHandlerParams) *TaskHandler {
	return &TaskHandler{sweeper: p.Sweeper}
}

func RegisterTaskHandlers(mux *asynq.ServeMux, h *TaskHandler) {
	mux.HandleFunc(TypeSweepFlush, h.HandleSweepFlush)
}

func (h *TaskHandler) HandleSweepFlush(ctx context.Context, t *asynq.Task) error {
	zapLog := zap.L().With(zap.String("task_type", t.Type()))
	zapLog.Info("start scheduled sweep")

	summary, err := h.sweeper.Run(ctx)
	if err != nil {
		zapLog.Error("scheduled sweep failed", zap.Error(err))
		return err
	}

	zapLog.Info("scheduled sweep finished",
		zap.Int("scopes", summary.Total),
		zap.Int("success", summary.SuccessCount),
		zap.Int("flushed", summary.Flushed),
	)
	return nil
}
