package embeddings

import (
	"strconv"
	"strings"

	"github.com/angelmondragon/studioflow-backend/pkg/db/models"
)

const fieldDelimiter = " | "

// BuildText renders the text that is embedded for m. Field order is fixed
// and empty fields are left out, so an unchanged record always produces the
// same bytes.
func BuildText(m *models.Media) string {
	if m == nil {
		return ""
	}
	var fields []string
	add := func(label, value string) {
		value = strings.Join(strings.Fields(value), " ")
		if value != "" {
			fields = append(fields, label+": "+value)
		}
	}

	add("Name", m.Name)
	add("Type", m.Type.String())
	if m.Type.IsVisual() {
		add("Visual summary", m.CachedSummary())
	}
	add("Tags", strings.Join(m.Tags, ", "))
	add("Format", m.Metadata.Format())
	if d := m.Metadata.DurationSeconds(); d > 0 {
		add("Duration", strconv.FormatFloat(d, 'f', 1, 64)+"s")
	}
	return strings.Join(fields, fieldDelimiter)
}
