package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownEvent   = errors.New("unknown event")
	ErrInvalidPayload = errors.New("invalid payload")
)

// EventName names a channel of the wire protocol.
type EventName string

const (
	// client → server
	EventUserRegister       EventName = "user_register"
	EventRequestData        EventName = "request_data"
	EventAdminNoticeUpdate  EventName = "admin_notice_update"
	EventAdminContentUpdate EventName = "admin_content_update"

	// server → client
	EventNoticeUpdate          EventName = "notice_update"
	EventContentUpdate         EventName = "content_update"
	EventEventUpdate           EventName = "event_update"
	EventDataSync              EventName = "data_sync"
	EventRegistrationConfirmed EventName = "registration_confirmed"
)

// MutationType describes what happened to a collection.
type MutationType string

const (
	MutationCreated  MutationType = "CREATED"
	MutationUpdated  MutationType = "UPDATED"
	MutationDeleted  MutationType = "DELETED"
	MutationDataSync MutationType = "DATA_SYNC"
)

// Frame is one websocket text message: {"event": ..., "data": ...}.
type Frame struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is a decoded wire payload. The concrete type is selected by the
// frame's event name.
type Message interface {
	EventName() EventName
}

// Register is sent after connecting to announce the local identity.
type Register struct {
	Identity
}

func (*Register) EventName() EventName { return EventUserRegister }

// RequestData asks the server for a full snapshot.
type RequestData struct{}

func (*RequestData) EventName() EventName { return EventRequestData }

// RegistrationConfirmed acknowledges a Register. Fields beyond the user id are
// server-defined and kept raw.
type RegistrationConfirmed struct {
	UserID       string          `json:"userId,omitempty"`
	ConnectionID string          `json:"connectionId,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

func (*RegistrationConfirmed) EventName() EventName { return EventRegistrationConfirmed }

// DataSync replaces whole collections. A nil slice means the collection was
// absent from the payload; an empty slice means it is empty.
type DataSync struct {
	Notices   []ContentRecord `json:"notices"`
	Awareness []ContentRecord `json:"awareness"`
	Events    []ContentRecord `json:"events"`
}

func (*DataSync) EventName() EventName { return EventDataSync }

// Collection returns the records carried for c and whether c was present.
func (d *DataSync) Collection(c Collection) ([]ContentRecord, bool) {
	var records []ContentRecord
	switch c {
	case CollectionNotices:
		records = d.Notices
	case CollectionAwareness:
		records = d.Awareness
	case CollectionEvents:
		records = d.Events
	}
	return records, records != nil
}

// Set stores records for c, replacing nil with an empty slice so that the
// collection counts as present.
func (d *DataSync) Set(c Collection, records []ContentRecord) {
	if records == nil {
		records = []ContentRecord{}
	}
	switch c {
	case CollectionNotices:
		d.Notices = records
	case CollectionAwareness:
		d.Awareness = records
	case CollectionEvents:
		d.Events = records
	}
}

// Mutation is the payload of admin_* and *_update channels. The JSON field
// names depend on Collection: notice/allNotices, content/allContent or
// event/allEvents. All is nil when the full collection was not sent.
type Mutation struct {
	Collection Collection
	Type       MutationType
	Record     *ContentRecord
	All        []ContentRecord
	Timestamp  int64
	AdminUser  string
}

func (m Mutation) MarshalJSON() ([]byte, error) {
	info, ok := collections[m.Collection]
	if !ok {
		return nil, fmt.Errorf("%w: mutation without collection", ErrInvalidPayload)
	}
	out := map[string]any{
		"type":      m.Type,
		"timestamp": m.Timestamp,
	}
	if m.AdminUser != "" {
		out["adminUser"] = m.AdminUser
	}
	if m.Record != nil {
		out[info.recordKey] = m.Record
	}
	if m.All != nil {
		out[info.allKey] = m.All
	}
	return json.Marshal(out)
}

func (m *Mutation) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Mutation{}
	if v, ok := raw["type"]; ok {
		if err := json.Unmarshal(v, &m.Type); err != nil {
			return fmt.Errorf("type: %w", err)
		}
	}
	if v, ok := raw["timestamp"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &m.Timestamp); err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
	}
	if v, ok := raw["adminUser"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &m.AdminUser); err != nil {
			return fmt.Errorf("adminUser: %w", err)
		}
	}
	for _, c := range Collections() {
		info := collections[c]
		rec, hasRec := raw[info.recordKey]
		all, hasAll := raw[info.allKey]
		hasRec = hasRec && !isNull(rec)
		hasAll = hasAll && !isNull(all)
		if !hasRec && !hasAll {
			continue
		}
		m.Collection = c
		if hasRec {
			m.Record = &ContentRecord{}
			if err := json.Unmarshal(rec, m.Record); err != nil {
				return fmt.Errorf("%s: %w", info.recordKey, err)
			}
		}
		if hasAll {
			m.All = []ContentRecord{}
			if err := json.Unmarshal(all, &m.All); err != nil {
				return fmt.Errorf("%s: %w", info.allKey, err)
			}
		}
		break
	}
	return nil
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// Update carries a Mutation on one of the admin or fan-out channels.
type Update struct {
	Channel EventName
	Mutation
}

func (u *Update) EventName() EventName { return u.Channel }

// Encode wraps msg in a frame.
func Encode(msg Message) (Frame, error) {
	var payload any = msg
	switch m := msg.(type) {
	case *RequestData:
		return Frame{Event: EventRequestData}, nil
	case *Update:
		payload = m.Mutation
	case *RegistrationConfirmed:
		if len(m.Raw) > 0 {
			return Frame{Event: m.EventName(), Data: m.Raw}, nil
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to marshal %s: %w", msg.EventName(), err)
	}
	return Frame{Event: msg.EventName(), Data: data}, nil
}

// Decode validates a frame and returns its typed message.
func Decode(f Frame) (Message, error) {
	switch f.Event {
	case EventRequestData:
		return &RequestData{}, nil

	case EventUserRegister:
		var m Register
		if err := unmarshalData(f, &m); err != nil {
			return nil, err
		}
		if m.UserID == "" {
			return nil, fmt.Errorf("%w: %s without userId", ErrInvalidPayload, f.Event)
		}
		return &m, nil

	case EventRegistrationConfirmed:
		m := RegistrationConfirmed{Raw: f.Data}
		// The ack shape is server-defined; anything that is not an object is kept raw.
		_ = json.Unmarshal(f.Data, &m)
		return &m, nil

	case EventDataSync:
		var m DataSync
		if err := unmarshalData(f, &m); err != nil {
			return nil, err
		}
		return &m, nil

	case EventAdminNoticeUpdate, EventNoticeUpdate:
		return decodeUpdate(f, CollectionNotices)
	case EventAdminContentUpdate:
		return decodeUpdate(f, CollectionAwareness, CollectionEvents)
	case EventContentUpdate:
		return decodeUpdate(f, CollectionAwareness)
	case EventEventUpdate:
		return decodeUpdate(f, CollectionEvents)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
}

func unmarshalData(f Frame, v any) error {
	if isNull(f.Data) {
		return fmt.Errorf("%w: %s without data", ErrInvalidPayload, f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, f.Event, err)
	}
	return nil
}

// decodeUpdate parses a mutation and checks that it belongs to one of the
// collections the channel may carry.
func decodeUpdate(f Frame, allowed ...Collection) (Message, error) {
	u := &Update{Channel: f.Event}
	if err := unmarshalData(f, &u.Mutation); err != nil {
		return nil, err
	}

	switch u.Type {
	case MutationCreated, MutationUpdated, MutationDeleted, MutationDataSync:
	default:
		return nil, fmt.Errorf("%w: %s with type %q", ErrInvalidPayload, f.Event, u.Type)
	}

	if u.Collection == "" {
		if len(allowed) != 1 {
			return nil, fmt.Errorf("%w: %s carries no record", ErrInvalidPayload, f.Event)
		}
		u.Collection = allowed[0]
	}
	for _, c := range allowed {
		if c == u.Collection {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: %s cannot carry %s", ErrInvalidPayload, f.Event, u.Collection)
}
