package formats

import (
	"testing"

	"vasset/fetch-service/internal/models"
)

func TestListAudioFormats(t *testing.T) {
	list := []models.Format{
		{FormatID: "137", VCodec: "avc1", ACodec: "none"},
		{FormatID: "18", VCodec: "avc1", ACodec: "mp4a"},
		{FormatID: "139", VCodec: "none", ACodec: "mp4a", ABR: 48},
		{FormatID: "140", VCodec: "none", ACodec: "mp4a", ABR: 128},
		{FormatID: "251", VCodec: "none", ACodec: "opus", ABR: 192},
		{FormatID: "338", VCodec: "none", ACodec: "opus", ABR: 256},
		{FormatID: "sb0", VCodec: "none", ACodec: "none"},
	}

	got := ListAudioFormats(list)

	want := map[string]models.AudioQuality{
		"139": models.AudioLow,
		"140": models.AudioMedium,
		"251": models.AudioMedium,
		"338": models.AudioHigh,
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d: %+v", len(got), len(want), got)
	}
	for _, f := range got {
		if q, ok := want[f.FormatID]; !ok || q != f.Quality {
			t.Errorf("format %s quality = %s, want %s", f.FormatID, f.Quality, q)
		}
	}
}

func TestListAudioFormatsEmpty(t *testing.T) {
	got := ListAudioFormats(nil)
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil slice", got)
	}
}
