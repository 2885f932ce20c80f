// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package hls

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParse_VOD_NoPDT(t *testing.T) {
	playlist := `#EXTM3U
#EXT-X-PLAYLIST-TYPE:VOD
#EXT-X-TARGETDURATION:10
#EXTINF:10.0,
segment1.ts
#EXTINF:10.0,
segment2.ts
#EXT-X-ENDLIST`

	pl, err := Parse(playlist)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !pl.IsVOD {
		t.Error("Expected IsVOD=true")
	}
	if pl.HasPDT {
		t.Error("Expected HasPDT=false")
	}
	if pl.TotalDuration != 20*time.Second {
		t.Errorf("Expected TotalDuration=20s, got %v", pl.TotalDuration)
	}
	if pl.TargetDuration != 10*time.Second {
		t.Errorf("Expected TargetDuration=10s, got %v", pl.TargetDuration)
	}
	if len(pl.Segments) != 2 || pl.Segments[1].URI != "segment2.ts" {
		t.Errorf("Unexpected segments: %+v", pl.Segments)
	}
}

func TestParse_Live_FullPDT(t *testing.T) {
	playlist := `#EXTM3U
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:42
#EXT-X-PROGRAM-DATE-TIME:2024-01-01T12:00:00Z
#EXTINF:4.0,
segment1.m4s
#EXT-X-PROGRAM-DATE-TIME:2024-01-01T12:00:04Z
#EXTINF:4.0,
segment2.m4s`

	pl, err := Parse(playlist)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if pl.IsVOD {
		t.Error("Expected IsVOD=false")
	}
	if pl.MediaSequence != 42 {
		t.Errorf("Expected MediaSequence=42, got %d", pl.MediaSequence)
	}
	expectedFirst := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if !pl.FirstPDT.Equal(expectedFirst) {
		t.Errorf("Expected FirstPDT=%v, got %v", expectedFirst, pl.FirstPDT)
	}
	if !pl.LastPDT.Equal(expectedFirst.Add(4 * time.Second)) {
		t.Errorf("Unexpected LastPDT %v", pl.LastPDT)
	}
}

func TestParse_Master(t *testing.T) {
	playlist := `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=2000000,CODECS="avc1.640029,mp4a.40.2",RESOLUTION=1280x720
720p/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=500000,CODECS="avc1.42e01e"
360p/index.m3u8`

	pl, err := Parse(playlist)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !pl.Master || len(pl.Variants) != 2 {
		t.Fatalf("Expected 2 variants, got %+v", pl)
	}
	if pl.Variants[0].Bandwidth != 2000000 || pl.Variants[0].Codecs != "avc1.640029,mp4a.40.2" {
		t.Errorf("Unexpected variant: %+v", pl.Variants[0])
	}
	if pl.Variants[1].URI != "360p/index.m3u8" {
		t.Errorf("Unexpected variant URI: %s", pl.Variants[1].URI)
	}
}

func TestParse_Guards(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"missing header", "segment1.ts", "EXTM3U"},
		{"empty", "", "EXTM3U"},
		{"bad extinf", "#EXTM3U\n#EXTINF:abc,\nseg.ts", "invalid EXTINF"},
		{"bad pdt", "#EXTM3U\n#EXT-X-PROGRAM-DATE-TIME:yesterday\n#EXTINF:1,\nseg.ts", "invalid PDT"},
		{"non monotonic", "#EXTM3U\n#EXT-X-PROGRAM-DATE-TIME:2024-01-01T12:00:10Z\n#EXTINF:1,\na.ts\n#EXT-X-PROGRAM-DATE-TIME:2024-01-01T12:00:00Z\n#EXTINF:1,\nb.ts", "non-monotonic"},
		{"partial pdt", "#EXTM3U\n#EXT-X-PROGRAM-DATE-TIME:2024-01-01T12:00:00Z\n#EXTINF:1,\na.ts\n#EXTINF:1,\nb.ts", "partial PDT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.body)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
	if _, err := Parse("nope"); !errors.Is(err, ErrNotPlaylist) {
		t.Errorf("expected ErrNotPlaylist, got %v", err)
	}
}

func TestResolveURI(t *testing.T) {
	got, err := ResolveURI("http://nvr.local/api/front/hls/index.m3u8?token=abc", "seg_1.m4s")
	if err != nil {
		t.Fatal(err)
	}
	if got != "http://nvr.local/api/front/hls/seg_1.m4s?token=abc" {
		t.Errorf("unexpected %s", got)
	}
	got, err = ResolveURI("http://nvr.local/a/index.m3u8", "http://cdn.local/x.ts?sig=1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "http://cdn.local/x.ts?sig=1" {
		t.Errorf("unexpected %s", got)
	}
}
