package instance

import "testing"

func TestGetIDPrefersExplicitWorkerID(t *testing.T) {
	t.Setenv("STUDIOFLOW_WORKER_ID", "worker-7")
	t.Setenv("K_REVISION", "worker-00012-abc")
	if got := GetID(); got != "worker-7" {
		t.Fatalf("expected worker-7, got %q", got)
	}
}

func TestGetIDFallsBack(t *testing.T) {
	t.Setenv("STUDIOFLOW_WORKER_ID", "")
	t.Setenv("K_REVISION", "")
	if got := GetID(); got != "worker-0" {
		t.Fatalf("expected default id, got %q", got)
	}
}
