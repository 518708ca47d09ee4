package app

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/MrWong99/dmva/pkg/va"
)

// Observers fans every notification out to each element in order. The
// controller accepts a single observer; the app installs one of these.
type Observers []va.Observer

var _ va.Observer = Observers(nil)

func (obs Observers) OnStateChanged(state va.LifecycleState, code va.ResultCode, message string) {
	for _, o := range obs {
		o.OnStateChanged(state, code, message)
	}
}

func (obs Observers) OnDialogResult(payload json.RawMessage, code va.ResultCode, message string) {
	for _, o := range obs {
		o.OnDialogResult(payload, code, message)
	}
}

func (obs Observers) OnVocabularyResult(code va.ResultCode, message string) {
	for _, o := range obs {
		o.OnVocabularyResult(code, message)
	}
}

func (obs Observers) OnDialogStarted() {
	for _, o := range obs {
		o.OnDialogStarted()
	}
}

func (obs Observers) OnDialogStopped() {
	for _, o := range obs {
		o.OnDialogStopped()
	}
}

func (obs Observers) OnEvent(ev va.Event) {
	for _, o := range obs {
		o.OnEvent(ev)
	}
}

// logObserver writes notifications to the default logger.
type logObserver struct{}

func (logObserver) OnStateChanged(state va.LifecycleState, code va.ResultCode, message string) {
	level := slog.LevelInfo
	if code != va.Success {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "session state changed", "state", state, "code", code, "message", message)
}

func (logObserver) OnDialogResult(payload json.RawMessage, code va.ResultCode, message string) {
	slog.Info("dialog result", "intent", va.Payload(payload).Intent(), "code", code, "message", message)
}

func (logObserver) OnVocabularyResult(code va.ResultCode, message string) {
	slog.Debug("vocabulary result", "code", code, "message", message)
}

func (logObserver) OnDialogStarted() { slog.Debug("dialog started") }

func (logObserver) OnDialogStopped() { slog.Debug("dialog stopped") }

func (logObserver) OnEvent(ev va.Event) {
	slog.Debug("va event", "type", ev.Type, "message", ev.Message)
}
