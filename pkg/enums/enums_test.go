package enums

import "testing"

func TestPipelineStagesOrder(t *testing.T) {
	want := []StageName{StageMerge, StageDownscale720, StageThumbnail, StageExtractAudio, StageTranscript}
	if len(PipelineStages) != len(want) {
		t.Fatalf("expected %d stages, got %d", len(want), len(PipelineStages))
	}
	for i, name := range want {
		idx, ok := StageIndex(name)
		if !ok || idx != i {
			t.Fatalf("stage %s expected index %d got %d (ok=%v)", name, i, idx, ok)
		}
	}
}

func TestParseAspectCode(t *testing.T) {
	cases := map[string]string{"916": "9:16", "169": "16:9", "11": "1:1"}
	for raw, ratio := range cases {
		code, err := ParseAspectCode(raw)
		if err != nil {
			t.Fatalf("ParseAspectCode(%q) returned error: %v", raw, err)
		}
		if code.Ratio() != ratio {
			t.Fatalf("expected ratio %s for %s, got %s", ratio, raw, code.Ratio())
		}
	}
	if _, err := ParseAspectCode("43"); err == nil {
		t.Fatal("expected unknown aspect code to fail")
	}
}

func TestRunStatusTerminal(t *testing.T) {
	if !RunStatusCompleted.IsTerminal() || !RunStatusFailed.IsTerminal() {
		t.Fatal("completed and failed must be terminal")
	}
	if RunStatusProcessing.IsTerminal() {
		t.Fatal("processing must not be terminal")
	}
}

func TestMetadataKindFor(t *testing.T) {
	if MetadataKindFor(MediaTypeStudioRecording) != MetadataKindRawRecording {
		t.Fatal("studio recordings carry raw recording metadata")
	}
	if MetadataKindFor(MediaTypeImage) != MetadataKindImage {
		t.Fatal("images carry image metadata")
	}
	if MetadataKindFor(MediaTypeScreen) != MetadataKindVideo {
		t.Fatal("screen captures carry video metadata")
	}
}

func TestMediaStatusVisible(t *testing.T) {
	for _, s := range []MediaStatus{MediaStatusPending, MediaStatusComplete, MediaStatusError, MediaStatusCancelled} {
		if !s.Visible() {
			t.Fatalf("%s should be visible", s)
		}
	}
	if MediaStatusDeleted.Visible() {
		t.Fatalf("deleted media must be hidden")
	}
	if _, err := ParseMediaStatus("archived"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}
