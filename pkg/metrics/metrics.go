// Package metrics defines the prometheus collectors for pipeline stages,
// embeddings, search and the cron worker. Every constructor accepts a nil
// registerer and then returns a no-op value.
package metrics

const namespace = "studioflow"

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
