package automa

import (
	"fmt"
	"strings"

	"github.com/bitsky-tech/automa/automa/interaction"
	"github.com/bitsky-tech/automa/automa/snapshot"
)

// InteractionException is returned by Arun when the dynamic-step loop
// can make no further runnable progress with at least one interaction
// still pending: the recoverable "I'm waiting on a human" signal of
// spec.md §4.6/§4.9. Snapshot holds the Automa's dumped state at the
// moment of the pause, ready to feed into Restore after a process
// restart; Interactions lists what each paused worker is waiting on, so
// a caller can collect InteractionFeedback and call Arun again.
type InteractionException struct {
	Interactions []interaction.Interaction
	Snapshot     snapshot.Snapshot
}

func (e *InteractionException) Error() string {
	keys := make([]string, 0, len(e.Interactions))
	for _, in := range e.Interactions {
		keys = append(keys, in.AwaitingWorkerKey)
	}
	return fmt.Sprintf("automa: paused awaiting human interaction from worker(s): %s", strings.Join(keys, ", "))
}
