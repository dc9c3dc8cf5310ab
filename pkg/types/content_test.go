package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTags(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil", nil, nil},
		{"only blanks", []string{"", "  ", "\t"}, nil},
		{"trims", []string{" pm-kisan ", "scholarship"}, []string{"pm-kisan", "scholarship"}},
		{"dedupes after trim", []string{"dbt", " dbt", "aadhaar", "dbt "}, []string{"dbt", "aadhaar"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTags(tt.in))
		})
	}
}

func TestParseCollection(t *testing.T) {
	for input, want := range map[string]Collection{
		"notices":          CollectionNotices,
		"Notice":           CollectionNotices,
		"awarenessContent": CollectionAwareness,
		"content":          CollectionAwareness,
		" events ":         CollectionEvents,
	} {
		got, err := ParseCollection(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseCollection("quiz")
	assert.Error(t, err)
}

func TestCollectionMetadata(t *testing.T) {
	assert.Equal(t, "notice", CollectionNotices.WireKind())
	assert.Equal(t, EventAdminContentUpdate, CollectionEvents.AdminEvent())
	assert.Equal(t, EventEventUpdate, CollectionEvents.FanoutEvent())
	assert.Equal(t, KindAwareness, CollectionAwareness.Kind())
	assert.False(t, Collection("dbt_user").Valid())
}

func TestContentRecord_JSONIsFlat(t *testing.T) {
	rec := ContentRecord{
		ID:       1700000000000,
		Kind:     KindNotice,
		Payload:  Payload{Title: "Camp on Feb 15", Priority: PriorityHigh},
		IsActive: true,
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "Camp on Feb 15", raw["title"])
	assert.Equal(t, "high", raw["priority"])
	assert.Equal(t, true, raw["isActive"])
	assert.NotContains(t, raw, "Payload")
	assert.NotContains(t, raw, "tags")
}
