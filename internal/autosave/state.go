package autosave

import (
	"context"

	"github.com/looplab/fsm"

	"vellum/internal/domain"
)

// Status transitions of the autosave lifecycle. Terminal-for-automation
// states (conflict, error with the retry ceiling hit) only leave via an
// explicit human action; everything else self-heals.
const (
	eventSave     = "save"
	eventSaved    = "saved"
	eventFail     = "fail"
	eventConflict = "conflict"
	eventWentDown = "went_offline"
	eventRestored = "back_online"
	eventResolved = "resolved"
	eventReloaded = "reloaded"
)

func newStatusMachine() *fsm.FSM {
	idle := string(domain.StatusIdle)
	saving := string(domain.StatusSaving)
	saved := string(domain.StatusSaved)
	errored := string(domain.StatusError)
	offline := string(domain.StatusOffline)
	conflicted := string(domain.StatusConflict)

	return fsm.NewFSM(
		idle,
		fsm.Events{
			// A save attempt may start from any resting state, including
			// conflict (an explicit Save Now after the user decided to
			// push anyway) and offline (replay after reconnection).
			{Name: eventSave, Src: []string{idle, saved, errored, offline, conflicted}, Dst: saving},
			{Name: eventSaved, Src: []string{saving}, Dst: saved},
			{Name: eventFail, Src: []string{saving}, Dst: errored},
			{Name: eventConflict, Src: []string{saving}, Dst: conflicted},
			// Connectivity can drop at any point of the self-healing
			// cycle, including mid-flight.
			{Name: eventWentDown, Src: []string{idle, saving, saved, errored}, Dst: offline},
			{Name: eventRestored, Src: []string{offline}, Dst: idle},
			// Conflict leaves only via a resolution action: a write
			// (overwrite/merge) lands on saved, a reload on idle.
			{Name: eventResolved, Src: []string{conflicted}, Dst: saved},
			{Name: eventReloaded, Src: []string{conflicted}, Dst: idle},
		},
		fsm.Callbacks{},
	)
}

// fireLocked advances the status machine and mirrors the result into the
// published state. Invalid transitions are skipped: they mean the event
// raced with a transition that already covered it (e.g. a second offline
// signal while already offline).
func (e *Engine) fireLocked(event string) {
	if err := e.machine.Event(context.Background(), event); err != nil {
		e.logger.Debug("status transition skipped",
			"document_id", e.docID,
			"event", event,
			"current", e.machine.Current(),
		)
		return
	}
	e.state.Status = domain.Status(e.machine.Current())
}
