package enums

import "fmt"

// MediaStatus is where a media row is in its lifecycle. Rows are soft
// deleted: a deleted row keeps its id so pipeline runs that reference it
// stay readable, but it is hidden from search and never embedded.
type MediaStatus string

const (
	MediaStatusPending   MediaStatus = "pending"
	MediaStatusComplete  MediaStatus = "complete"
	MediaStatusError     MediaStatus = "error"
	MediaStatusCancelled MediaStatus = "cancelled"
	MediaStatusDeleted   MediaStatus = "deleted"
)

var mediaStatuses = map[MediaStatus]struct{}{
	MediaStatusPending:   {},
	MediaStatusComplete:  {},
	MediaStatusError:     {},
	MediaStatusCancelled: {},
	MediaStatusDeleted:   {},
}

func (m MediaStatus) String() string {
	return string(m)
}

func (m MediaStatus) IsValid() bool {
	_, ok := mediaStatuses[m]
	return ok
}

// Visible reports whether the row may appear in search results and be
// embedded.
func (m MediaStatus) Visible() bool {
	return m != MediaStatusDeleted
}

func ParseMediaStatus(value string) (MediaStatus, error) {
	if s := MediaStatus(value); s.IsValid() {
		return s, nil
	}
	return "", fmt.Errorf("invalid media status %q", value)
}
