package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbt-portal/dbtsync/pkg/types"
)

func TestMarkdown(t *testing.T) {
	out, err := Markdown("<p>Link your <strong>Aadhaar</strong> to your bank account.</p><ul><li>Visit the branch</li><li>Carry your passbook</li></ul><script>alert(1)</script>")
	require.NoError(t, err)

	assert.Contains(t, out, "**Aadhaar**")
	assert.Contains(t, out, "- Visit the branch")
	assert.NotContains(t, out, "alert")
}

func TestMarkdown_PlainTextUnchanged(t *testing.T) {
	out, err := Markdown("Camp on Feb 15 at the block office")
	require.NoError(t, err)
	assert.Equal(t, "Camp on Feb 15 at the block office", out)
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "Scholarship deadline extended", PlainText("<h2>Scholarship</h2>\n<p>deadline   <em>extended</em></p><style>p{}</style>"))
	assert.Equal(t, "no markup", PlainText("no   markup"))
}

func TestSummary(t *testing.T) {
	rec := types.ContentRecord{Payload: types.Payload{Description: "<p>DBT sends benefits straight to your account</p>"}}
	assert.Equal(t, "DBT sends…", Summary(rec, 10))
	assert.Equal(t, "DBT sends benefits straight to your account", Summary(rec, 100))
	assert.Equal(t, "…", Summary(rec, 1))
	assert.Empty(t, Summary(rec, 0))
	assert.Empty(t, Summary(rec, -5))
}

func TestRecord(t *testing.T) {
	rec := types.ContentRecord{
		ID:   1700000000000,
		Kind: types.KindEvent,
		Payload: types.Payload{
			Title:       "Aadhaar seeding camp",
			Description: "<p>Bring your <b>passbook</b>.</p>",
			Category:    "camp",
			Priority:    types.PriorityHigh,
			Location:    "Block office",
			Date:        "2024-02-15",
			ValidUntil:  "2024-02-16",
		},
		Tags: []string{"aadhaar", "camp"},
	}

	var buf bytes.Buffer
	require.NoError(t, Record(&buf, rec))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "## Aadhaar seeding camp\n"))
	assert.Contains(t, out, "id 1700000000000 · camp · high priority · on 2024-02-15 · at Block office · inactive")
	assert.Contains(t, out, "**passbook**")
	assert.Contains(t, out, "Valid: - to 2024-02-16")
	assert.Contains(t, out, "Tags: aadhaar, camp")
}

func TestTable(t *testing.T) {
	records := []types.ContentRecord{
		{ID: 2, Payload: types.Payload{Title: "Second notice", Priority: types.PriorityLow}, IsActive: true, UpdatedAt: 1700000000000},
		{ID: 1, Payload: types.Payload{Title: "First notice"}},
	}

	var buf bytes.Buffer
	require.NoError(t, Table(&buf, records))
	out := buf.String()

	assert.Contains(t, out, "Second notice")
	assert.Contains(t, out, "First notice")
	assert.Contains(t, out, "true")
	assert.Contains(t, out, "false")
}

func TestTimestamp(t *testing.T) {
	assert.Equal(t, "-", Timestamp(0))
	assert.NotEqual(t, "-", Timestamp(1700000000000))
}
