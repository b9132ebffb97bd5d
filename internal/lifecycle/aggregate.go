// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package lifecycle

import "github.com/tomtom215/tracearr/internal/models"

// inProgressPriority orders non-terminal episode states from most to
// least advanced. The aggregate of a mixed set is the most advanced
// state any episode occupies.
var inProgressPriority = []models.State{
	models.StateAnimeMatching,
	models.StateImporting,
	models.StateDownloaded,
	models.StateDownloading,
	models.StateGrabbing,
}

// DeriveRequestState computes a TV request's state from its episodes:
// all AVAILABLE wins, any FAILED loses, otherwise the highest-priority
// in-progress state present. Called after every episode mutation; the
// resulting request transition is fed back through the state machine
// with full validation.
func DeriveRequestState(episodes []models.Episode) models.State {
	if len(episodes) == 0 {
		return ""
	}

	allAvailable := true
	for i := range episodes {
		if episodes[i].State != models.StateAvailable {
			allAvailable = false
		}
		if episodes[i].State == models.StateFailed {
			return models.StateFailed
		}
	}
	if allAvailable {
		return models.StateAvailable
	}

	occupied := make(map[models.State]bool, len(episodes))
	for i := range episodes {
		occupied[episodes[i].State] = true
	}
	for _, s := range inProgressPriority {
		if occupied[s] {
			return s
		}
	}

	// Unrecognized states only; surface the first as-is rather than guess.
	return episodes[0].State
}
