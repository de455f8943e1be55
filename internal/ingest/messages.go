package ingest

import (
	"time"

	"github.com/oerlikon/prep/internal/connection"
	"github.com/oerlikon/prep/internal/model"
)

// message is one inbox item. The loop dispatches on the concrete type.
type message interface {
	message()
}

// feedMsg carries one live feed event.
type feedMsg struct {
	event connection.Event
}

// loadedMsg carries one symbol's warm-up tail and resume point.
type loadedMsg struct {
	symbol model.Symbol
	tail   []model.Trade
	from   time.Time
	lastID int64
}

// fetchedMsg carries one gap-fill page.
type fetchedMsg struct {
	symbol model.Symbol
	trades []model.Trade
}

// fetchDoneMsg reports that gap-fill finished for every symbol.
type fetchDoneMsg struct{}

// failedMsg reports a fatal error from a background task or worker.
type failedMsg struct {
	task string
	err  error
}

func (feedMsg) message()      {}
func (loadedMsg) message()    {}
func (fetchedMsg) message()   {}
func (fetchDoneMsg) message() {}
func (failedMsg) message()    {}
