package event

import "github.com/dbt-portal/dbtsync/pkg/types"

// Source tells subscribers where a change came from.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// UpdateData is the data for notice-updated, content-updated and event-updated.
// Records is the full resulting collection when the change replaced or
// rewrote it, and nil otherwise.
type UpdateData struct {
	Collection types.Collection      `json:"collection"`
	Mutation   types.MutationType    `json:"mutation"`
	Record     *types.ContentRecord  `json:"record,omitempty"`
	Records    []types.ContentRecord `json:"records,omitempty"`
	Source     Source                `json:"source"`
}

// ConnectionData is the data for connection-changed.
type ConnectionData struct {
	State   string `json:"state"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error,omitempty"`
}

var collectionEvents = map[types.Collection]EventType{
	types.CollectionNotices:   NoticeUpdated,
	types.CollectionAwareness: ContentUpdated,
	types.CollectionEvents:    EventUpdated,
}

// ForCollection returns the update event published when c changes.
func ForCollection(c types.Collection) EventType {
	return collectionEvents[c]
}
