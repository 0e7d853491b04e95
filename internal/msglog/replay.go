package msglog

import "github.com/google/uuid"

// ReplayInto reads every entry in the log and re-emits it through emit in
// file order, restoring each channel's replay ring after a daemon
// restart. Grounded on hydra-mail's replay_message_log, which feeds every
// recovered entry back through emit_and_store on startup. emit is
// normally (*channeltable.Table).Emit; it is passed as a plain function
// rather than an interface so this package doesn't need to import
// channeltable.
func (l *Log) ReplayInto(emit func(projectUUID uuid.UUID, channel string, payload []byte)) error {
	entries, err := l.Replay()
	if err != nil {
		return err
	}
	for _, e := range entries {
		emit(e.ProjectUUID, e.Channel, []byte(e.Payload))
	}
	return nil
}
