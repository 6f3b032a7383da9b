package instance

import "os"

// GetID returns the worker instance identifier. Cloud Run revisions set
// K_REVISION; STUDIOFLOW_WORKER_ID wins when both are present.
func GetID() string {
	if id := os.Getenv("STUDIOFLOW_WORKER_ID"); id != "" {
		return id
	}
	if id := os.Getenv("K_REVISION"); id != "" {
		return id
	}
	return "worker-0"
}
