// Package types provides the core data types shared by the cache, the repositories,
// the sync client and the relay.
package types

import (
	"fmt"
	"strings"
)

// Kind discriminates the three kinds of portal content.
type Kind string

const (
	KindNotice    Kind = "NOTICE"
	KindAwareness Kind = "AWARENESS"
	KindEvent     Kind = "EVENT"
)

// Collection is the cache key under which one kind of content is persisted.
type Collection string

const (
	CollectionNotices   Collection = "notices"
	CollectionAwareness Collection = "awarenessContent"
	CollectionEvents    Collection = "events"
)

// Session keys share the cache with the collections but carry no sync semantics.
const (
	SessionUserKey  = "dbt_user"
	SessionTokenKey = "auth_token"
)

type collectionInfo struct {
	kind      Kind
	wire      string // kind tag used by broadcasts: notice|content|event
	recordKey string // single-record field in update payloads
	allKey    string // full-collection field in update payloads
	syncKey   string // field in data_sync payloads
	admin     EventName
	fanout    EventName
}

var collections = map[Collection]collectionInfo{
	CollectionNotices: {
		kind:      KindNotice,
		wire:      "notice",
		recordKey: "notice",
		allKey:    "allNotices",
		syncKey:   "notices",
		admin:     EventAdminNoticeUpdate,
		fanout:    EventNoticeUpdate,
	},
	CollectionAwareness: {
		kind:      KindAwareness,
		wire:      "content",
		recordKey: "content",
		allKey:    "allContent",
		syncKey:   "awareness",
		admin:     EventAdminContentUpdate,
		fanout:    EventContentUpdate,
	},
	CollectionEvents: {
		kind:      KindEvent,
		wire:      "event",
		recordKey: "event",
		allKey:    "allEvents",
		syncKey:   "events",
		admin:     EventAdminContentUpdate,
		fanout:    EventEventUpdate,
	},
}

// Collections returns every collection in a fixed order.
func Collections() []Collection {
	return []Collection{CollectionNotices, CollectionAwareness, CollectionEvents}
}

// Valid reports whether c names a known collection.
func (c Collection) Valid() bool {
	_, ok := collections[c]
	return ok
}

// Kind returns the content kind stored in c.
func (c Collection) Kind() Kind { return collections[c].kind }

// WireKind returns the broadcast kind tag (notice, content or event).
func (c Collection) WireKind() string { return collections[c].wire }

// AdminEvent returns the client→server channel used to broadcast mutations of c.
func (c Collection) AdminEvent() EventName { return collections[c].admin }

// FanoutEvent returns the server→client channel carrying mutations of c.
func (c Collection) FanoutEvent() EventName { return collections[c].fanout }

// ParseCollection accepts a collection key, a wire kind or a common alias.
func ParseCollection(s string) (Collection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "notices", "notice":
		return CollectionNotices, nil
	case "awarenesscontent", "awareness", "content":
		return CollectionAwareness, nil
	case "events", "event":
		return CollectionEvents, nil
	}
	return "", fmt.Errorf("unknown collection %q", s)
}

// Priority ranks notices for display.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Payload holds the kind-specific fields of a record. Fields that do not apply
// to a kind are left empty.
type Payload struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Priority    Priority `json:"priority,omitempty"`
	Audience    string   `json:"audience,omitempty"`
	MediaURL    string   `json:"mediaUrl,omitempty"`
	Location    string   `json:"location,omitempty"`
	Date        string   `json:"date,omitempty"`
	ValidFrom   string   `json:"validFrom,omitempty"`
	ValidUntil  string   `json:"validUntil,omitempty"`
}

// ContentRecord is a notice, awareness item or community event.
// Timestamps are Unix milliseconds set by the client issuing the mutation.
type ContentRecord struct {
	ID   int64 `json:"id"`
	Kind Kind  `json:"kind,omitempty"`
	Payload
	Tags      []string `json:"tags,omitempty"`
	IsActive  bool     `json:"isActive"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
}

// NormalizeTags trims every tag and drops empties and duplicates, keeping
// first-seen order. It returns nil when nothing is left.
func NormalizeTags(tags []string) []string {
	var out []string
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// Identity announces the local user to the server.
type Identity struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Name   string `json:"name"`
}

// IsAdmin reports whether the identity may issue content mutations.
func (i Identity) IsAdmin() bool {
	return i.Role == "admin"
}
