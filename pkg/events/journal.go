package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Journal writes every event published on a broker to a logger
type Journal struct {
	broker    *Broker
	logger    zerolog.Logger
	sub       Subscriber
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewJournal creates a journal for the broker's events
func NewJournal(broker *Broker, logger zerolog.Logger) *Journal {
	return &Journal{
		broker: broker,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start subscribes to the broker
func (j *Journal) Start() {
	j.startOnce.Do(func() {
		j.sub = j.broker.Subscribe()
		go j.run()
	})
}

// Stop unsubscribes and waits until every received event is written
func (j *Journal) Stop() {
	j.stopOnce.Do(func() {
		if j.sub == nil {
			return
		}
		j.broker.Unsubscribe(j.sub)
		<-j.done
	})
}

func (j *Journal) run() {
	defer close(j.done)
	for event := range j.sub {
		j.write(event)
	}
}

func (j *Journal) write(event *Event) {
	e := j.logger.Info()
	if event.Type == EventNodeSyncFailed {
		e = j.logger.Warn()
	}
	e = e.Str("event_id", event.ID).
		Str("event", string(event.Type)).
		Time("at", event.Timestamp)
	for k, v := range event.Metadata {
		e = e.Str(k, v)
	}
	e.Msg(event.Message)
}
