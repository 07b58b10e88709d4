// Package changes turns watcher events into change records on the hub.
package changes

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	"mho/internal/freshness"
	"mho/internal/fsutil"
	"mho/internal/logging"
	"mho/internal/sse"
	"mho/internal/watcher"
)

// EventName is the SSE event type of every change record.
const EventName = "change"

// Record is the JSON payload of a change message.
type Record struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
	// Token is the file's new freshness token, omitted when the file is gone.
	Token string `json:"token,omitempty"`
}

// Publisher receives encoded change messages. *hub.Hub[sse.Message]
// satisfies it.
type Publisher interface {
	Publish(sse.Message)
}

// Feed numbers change records and publishes them. Handle is meant to be
// used as watcher.Options.OnEvent.
type Feed struct {
	root      string
	publisher Publisher
	logger    *logging.Logger
	seq       atomic.Uint64
}

func NewFeed(root string, publisher Publisher, logger *logging.Logger) *Feed {
	return &Feed{
		root:      root,
		publisher: publisher,
		logger:    logger.With(map[string]string{"mho.category": "changes"}),
	}
}

// Handle publishes one change. Events outside the root are logged and
// dropped.
func (f *Feed) Handle(event watcher.Event) {
	if f == nil || f.publisher == nil {
		return
	}
	message, err := f.Message(event)
	if err != nil {
		f.logger.Warn("change dropped", map[string]string{
			"path":  event.Path,
			"error": err.Error(),
		})
		return
	}
	f.publisher.Publish(message)
	f.logger.Debug("change published", map[string]string{
		"id":   message.ID(),
		"kind": string(event.Kind),
		"path": event.Path,
	})
}

// Message builds the next numbered change message for event.
func (f *Feed) Message(event watcher.Event) (sse.Message, error) {
	urlPath, err := fsutil.URLPath(f.root, event.Path)
	if err != nil {
		return sse.Message{}, fmt.Errorf("map change path: %w", err)
	}
	record := Record{Kind: string(event.Kind), Path: urlPath}
	if event.Kind != watcher.KindRemoved {
		if token, err := freshness.ForFile(event.Path); err == nil {
			record.Token = token
		}
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return sse.Message{}, fmt.Errorf("encode change record: %w", err)
	}
	return sse.NewMessage(sse.Fields{
		Event: EventName,
		ID:    strconv.FormatUint(f.seq.Add(1), 10),
		Data:  string(payload),
	})
}

// Last returns the id of the most recent record.
func (f *Feed) Last() uint64 {
	return f.seq.Load()
}

// Decode parses the payload of a change message.
func Decode(message sse.Message) (Record, error) {
	if message.Event() != EventName {
		return Record{}, fmt.Errorf("unexpected event %q", message.Event())
	}
	var record Record
	if err := json.Unmarshal([]byte(message.Data()), &record); err != nil {
		return Record{}, fmt.Errorf("decode change record: %w", err)
	}
	return record, nil
}
