package cli

import (
	gcmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-errors"

	"github.com/goliatone/go-sceneexport/command"
	"github.com/goliatone/go-sceneexport/query"
	"github.com/goliatone/go-sceneexport/scene"
)

// registerHandlers wires the job commands and run queries to go-command.
// Queries are only subscribed when a tracker is configured.
func registerHandlers(reg *gcmd.Registry, runner command.JobRunner, tracker scene.RunTracker) ([]dispatcher.Subscription, error) {
	if runner == nil && tracker == nil {
		return nil, errors.New("job runner or run tracker is required", errors.CategoryValidation).
			WithTextCode("HANDLERS_REQUIRED")
	}

	var (
		subscriptions []dispatcher.Subscription
		handlers      []any
	)
	if runner != nil {
		run := command.NewRunJobHandler(runner)
		runFile := command.NewRunJobFileHandler(runner)
		subscriptions = append(subscriptions,
			dispatcher.SubscribeCommand(run),
			dispatcher.SubscribeCommand(runFile),
		)
		handlers = append(handlers, run, runFile)
	}
	if tracker != nil {
		status := query.NewRunStatusHandler(tracker)
		history := query.NewRunHistoryHandler(tracker)
		subscriptions = append(subscriptions,
			dispatcher.SubscribeQuery(status),
			dispatcher.SubscribeQuery(history),
		)
		handlers = append(handlers, status, history)
	}

	if reg != nil {
		for _, handler := range handlers {
			if err := reg.RegisterCommand(handler); err != nil {
				return subscriptions, err
			}
		}
	}
	return subscriptions, nil
}
