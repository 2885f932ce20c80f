// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package selector

import (
	"strings"

	"github.com/ManuGH/nvrview/internal/transport"
)

// DefaultPeerIncompatibleCodecs are camera codecs the peer transport cannot carry.
var DefaultPeerIncompatibleCodecs = []string{"h265", "hevc"}

func normalizeCodec(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	return strings.NewReplacer(".", "", "-", "", "_", "", " ", "").Replace(c)
}

// PeerIncompatible reports whether codec is in the incompatible list.
func PeerIncompatible(codec string, incompatible []string) bool {
	c := normalizeCodec(codec)
	if c == "" {
		return false
	}
	for _, bad := range incompatible {
		if b := normalizeCodec(bad); b != "" && strings.HasPrefix(c, b) {
			return true
		}
	}
	return false
}

// Plan returns the kinds to try, in order. The peer transport is skipped for
// incompatible codecs and the hint may narrow the list, but the snapshot
// transport is always kept as the last resort.
func Plan(order []transport.Kind, hint transport.Hint, incompatible []string, available func(transport.Kind) bool) []transport.Kind {
	if len(order) == 0 {
		order = transport.DefaultOrder
	}
	seen := make(map[transport.Kind]bool, len(order))
	plan := make([]transport.Kind, 0, len(order))
	for _, k := range order {
		if seen[k] {
			continue
		}
		seen[k] = true
		if available != nil && !available(k) {
			continue
		}
		if k == transport.KindPeer && PeerIncompatible(hint.Codec, incompatible) {
			continue
		}
		if k != transport.KindSnapshot && !hint.Allows(k) {
			continue
		}
		plan = append(plan, k)
	}
	return plan
}
