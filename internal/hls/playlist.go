// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package hls parses HLS playlists for the segmented transport and the
// recordings API.
package hls

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotPlaylist is returned when the body does not start with #EXTM3U.
var ErrNotPlaylist = errors.New("hls: missing #EXTM3U header")

// Segment is one media segment of a media playlist.
type Segment struct {
	URI      string
	Duration time.Duration
	PDT      time.Time
}

// Variant is one rendition listed by a master playlist.
type Variant struct {
	URI       string
	Bandwidth int
	Codecs    string
}

// Playlist represents authoritative metadata derived from a playlist.
type Playlist struct {
	Master         bool
	Variants       []Variant
	Segments       []Segment
	TargetDuration time.Duration
	MediaSequence  int
	HasPDT         bool
	FirstPDT       time.Time
	LastPDT        time.Time
	TotalDuration  time.Duration
	IsVOD          bool // Derived from #EXT-X-PLAYLIST-TYPE:VOD or #EXT-X-ENDLIST
}

// Parse parses a master or media playlist.
// It implements critical guards:
// 1. Header: the body must be an M3U8 playlist
// 2. Monotonicity: PDT never jumps backwards (Live/Event)
// 3. Coverage: live playlists label either all segments with PDT or none
func Parse(body string) (*Playlist, error) {
	scanner := bufio.NewScanner(strings.NewReader(body))
	pl := &Playlist{}

	var (
		nextDuration       time.Duration
		nextPDT            time.Time
		hasEndList         bool
		hasPlaylistTypeVOD bool
		pendingVariant     *Variant
		sawHeader          bool

		lastPDT         time.Time
		segmentsWithPDT int
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !sawHeader {
			if line != "#EXTM3U" {
				return nil, ErrNotPlaylist
			}
			sawHeader = true
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-PLAYLIST-TYPE:VOD"):
			hasPlaylistTypeVOD = true
			continue
		case line == "#EXT-X-ENDLIST":
			hasEndList = true
			continue
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			secs, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"))
			if err != nil {
				return nil, fmt.Errorf("invalid target duration: %s", line)
			}
			pl.TargetDuration = time.Duration(secs) * time.Second
			continue
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			seq, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"))
			if err != nil {
				return nil, fmt.Errorf("invalid media sequence: %s", line)
			}
			pl.MediaSequence = seq
			continue
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			pl.Master = true
			pendingVariant = parseStreamInf(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
			continue
		case strings.HasPrefix(line, "#EXT-X-PROGRAM-DATE-TIME:"):
			pdtStr := strings.TrimPrefix(line, "#EXT-X-PROGRAM-DATE-TIME:")
			t, err := time.Parse(time.RFC3339Nano, pdtStr)
			if err != nil {
				// Retry without Nano if needed
				t, err = time.Parse(time.RFC3339, pdtStr)
				if err != nil {
					return nil, fmt.Errorf("invalid PDT format: %s", pdtStr)
				}
			}
			if !lastPDT.IsZero() && t.Before(lastPDT) {
				return nil, fmt.Errorf("PDT non-monotonic: %v < %v", t, lastPDT)
			}
			nextPDT = t
			lastPDT = t
			continue
		case strings.HasPrefix(line, "#EXTINF:"):
			// Format: #EXTINF:10.000,
			durPart := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.Index(durPart, ","); idx != -1 {
				durPart = durPart[:idx]
			}
			secs, err := strconv.ParseFloat(durPart, 64)
			if err != nil || secs < 0 {
				return nil, fmt.Errorf("invalid EXTINF duration: %s", durPart)
			}
			nextDuration = time.Duration(secs * float64(time.Second))
			continue
		case strings.HasPrefix(line, "#"):
			continue
		}

		// URI line
		if pendingVariant != nil {
			pendingVariant.URI = line
			pl.Variants = append(pl.Variants, *pendingVariant)
			pendingVariant = nil
			continue
		}

		seg := Segment{URI: line, Duration: nextDuration, PDT: nextPDT}
		pl.Segments = append(pl.Segments, seg)
		pl.TotalDuration += nextDuration
		if !nextPDT.IsZero() {
			segmentsWithPDT++
			if pl.FirstPDT.IsZero() {
				pl.FirstPDT = nextPDT
			}
			pl.LastPDT = nextPDT
		}
		nextDuration = 0
		nextPDT = time.Time{}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawHeader {
		return nil, ErrNotPlaylist
	}

	pl.IsVOD = hasPlaylistTypeVOD || hasEndList
	pl.HasPDT = segmentsWithPDT > 0

	// A live playlist with PDT on only some segments cannot be placed on a timeline.
	if !pl.IsVOD && pl.HasPDT && segmentsWithPDT != len(pl.Segments) {
		return nil, fmt.Errorf("partial PDT coverage in live playlist (found %d/%d)", segmentsWithPDT, len(pl.Segments))
	}

	return pl, nil
}

func parseStreamInf(attrs string) *Variant {
	v := &Variant{}
	for _, kv := range splitAttributes(attrs) {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch key {
		case "BANDWIDTH":
			v.Bandwidth, _ = strconv.Atoi(val)
		case "CODECS":
			v.Codecs = strings.Trim(val, `"`)
		}
	}
	return v
}

// splitAttributes splits an attribute list on commas outside quoted strings.
func splitAttributes(s string) []string {
	var out []string
	inQuote := false
	start := 0
	for i, r := range s {
		switch r {
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

// ResolveURI resolves a playlist-relative URI against the playlist URL.
func ResolveURI(playlistURL, ref string) (string, error) {
	base, err := url.Parse(playlistURL)
	if err != nil {
		return "", err
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	resolved := base.ResolveReference(rel)
	// Carry auth query parameters to relative segment URIs.
	if rel.RawQuery == "" && !rel.IsAbs() {
		resolved.RawQuery = base.RawQuery
	}
	return resolved.String(), nil
}
