// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

// Package lifecycle owns the request and episode finite-state machines
// and the episode aggregation rule.
//
// The state machine is deliberately a pure function over (current,
// target): callers hold the database transaction and write both the
// state change and its timeline event inside it. That keeps this
// package free of storage dependencies and makes every transition
// decision unit-testable without a database.
package lifecycle

import (
	"fmt"
	"strings"

	"github.com/tomtom215/tracearr/internal/models"
)

// ErrInvalidTransition is returned when a target state is not reachable
// from the current state. Ingest handlers log it and treat the inbound
// event as processed; it never propagates to an external caller.
type ErrInvalidTransition struct {
	From models.State
	To   models.State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// requestTransitions is the legal-transition table for requests.
var requestTransitions = map[models.State][]models.State{
	models.StateRequested:     {models.StateApproved, models.StateFailed},
	models.StateApproved:      {models.StateGrabbing, models.StateFailed},
	models.StateGrabbing:      {models.StateDownloading, models.StateFailed},
	models.StateDownloading:   {models.StateDownloaded, models.StateFailed},
	models.StateDownloaded:    {models.StateImporting, models.StateAnimeMatching, models.StateFailed},
	models.StateImporting:     {models.StateAnimeMatching, models.StateAvailable, models.StateFailed},
	models.StateAnimeMatching: {models.StateAvailable, models.StateFailed},
	// Manual override only.
	models.StateAvailable: {models.StateFailed},
	// Retry path.
	models.StateFailed: {models.StateApproved},
}

// episodeTransitions mirrors the request table without the request-only
// REQUESTED/APPROVED states and without the retry edge.
var episodeTransitions = map[models.State][]models.State{
	models.StateGrabbing:      {models.StateDownloading, models.StateFailed},
	models.StateDownloading:   {models.StateDownloaded, models.StateFailed},
	models.StateDownloaded:    {models.StateImporting, models.StateAnimeMatching, models.StateFailed},
	models.StateImporting:     {models.StateAnimeMatching, models.StateAvailable, models.StateFailed},
	models.StateAnimeMatching: {models.StateAvailable, models.StateFailed},
	models.StateAvailable:     {models.StateFailed},
}

func allowed(table map[models.State][]models.State, from, to models.State) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionRequest reports whether a request may move from -> to.
// Self-transitions are permitted and treated as no-ops by callers.
func CanTransitionRequest(from, to models.State) bool {
	return from == to || allowed(requestTransitions, from, to)
}

// CanTransitionEpisode reports whether an episode may move from -> to.
func CanTransitionEpisode(from, to models.State) bool {
	return from == to || allowed(episodeTransitions, from, to)
}

// ValidateRequest returns ErrInvalidTransition when the move is illegal.
func ValidateRequest(from, to models.State) error {
	if !CanTransitionRequest(from, to) {
		return &ErrInvalidTransition{From: from, To: to}
	}
	return nil
}

// ValidateEpisode returns ErrInvalidTransition when the move is illegal.
func ValidateEpisode(from, to models.State) error {
	if !CanTransitionEpisode(from, to) {
		return &ErrInvalidTransition{From: from, To: to}
	}
	return nil
}

// ImportTarget returns the state an import-completed event moves a
// request or episode into: the anime branch goes through Shoko matching,
// everything else through plain importing.
func ImportTarget(anime bool) models.State {
	if anime {
		return models.StateAnimeMatching
	}
	return models.StateImporting
}

// nextTowardAvailable is the forward hop taken when force-completing.
// The anime flag decides which import branch DOWNLOADED steps through.
func nextTowardAvailable(from models.State, anime bool) models.State {
	switch from {
	case models.StateRequested:
		return models.StateApproved
	case models.StateApproved:
		return models.StateGrabbing
	case models.StateGrabbing:
		return models.StateDownloading
	case models.StateDownloading:
		return models.StateDownloaded
	case models.StateDownloaded:
		return ImportTarget(anime)
	case models.StateImporting, models.StateAnimeMatching:
		return models.StateAvailable
	default:
		return ""
	}
}

const maxForcedHops = 8

// StepsToAvailable returns the ordered chain of states a request passes
// through to reach AVAILABLE from `from`, every hop legal per the
// transition table. Empty when already AVAILABLE; nil when no legal
// path exists.
func StepsToAvailable(from models.State, anime bool) []models.State {
	if from == models.StateAvailable {
		return []models.State{}
	}
	var steps []models.State
	cur := from
	for i := 0; i < maxForcedHops; i++ {
		next := nextTowardAvailable(cur, anime)
		if cur == models.StateFailed {
			next = models.StateApproved
		}
		if next == "" || !CanTransitionRequest(cur, next) {
			return nil
		}
		steps = append(steps, next)
		if next == models.StateAvailable {
			return steps
		}
		cur = next
	}
	return nil
}

// EpisodeStepsToAvailable is StepsToAvailable over the episode table.
// Episodes have no FAILED retry edge, so a FAILED episode returns nil.
func EpisodeStepsToAvailable(from models.State, anime bool) []models.State {
	if from == models.StateAvailable {
		return []models.State{}
	}
	var steps []models.State
	cur := from
	for i := 0; i < maxForcedHops; i++ {
		next := nextTowardAvailable(cur, anime)
		if next == "" || !CanTransitionEpisode(cur, next) {
			return nil
		}
		steps = append(steps, next)
		if next == models.StateAvailable {
			return steps
		}
		cur = next
	}
	return nil
}

// InferAnime settles the tri-state anime classification at grab time.
// Any positive signal wins: an "anime" indexer tag, Sonarr series type
// "anime", or a final path under the anime library root.
func InferAnime(tags []string, seriesType, path, animeRoot string) models.AnimeFlag {
	for _, t := range tags {
		if strings.EqualFold(t, "anime") {
			return models.AnimeYes
		}
	}
	if strings.EqualFold(seriesType, "anime") {
		return models.AnimeYes
	}
	if animeRoot != "" && path != "" && strings.HasPrefix(path, animeRoot) {
		return models.AnimeYes
	}
	return models.AnimeNo
}
