// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/tracearr/internal/models"
)

func TestRequestTransitionTable(t *testing.T) {
	tests := []struct {
		name  string
		from  models.State
		to    models.State
		legal bool
	}{
		{"requested to approved", models.StateRequested, models.StateApproved, true},
		{"requested to failed", models.StateRequested, models.StateFailed, true},
		{"requested to grabbing skips approval", models.StateRequested, models.StateGrabbing, false},
		{"approved to grabbing", models.StateApproved, models.StateGrabbing, true},
		{"grabbing to downloading", models.StateGrabbing, models.StateDownloading, true},
		{"grabbing to downloaded skips downloading", models.StateGrabbing, models.StateDownloaded, false},
		{"downloading to downloaded", models.StateDownloading, models.StateDownloaded, true},
		{"downloaded to importing", models.StateDownloaded, models.StateImporting, true},
		{"downloaded direct to anime matching", models.StateDownloaded, models.StateAnimeMatching, true},
		{"importing to available", models.StateImporting, models.StateAvailable, true},
		{"importing to anime matching", models.StateImporting, models.StateAnimeMatching, true},
		{"anime matching to available", models.StateAnimeMatching, models.StateAvailable, true},
		{"available manual override to failed", models.StateAvailable, models.StateFailed, true},
		{"available back to importing", models.StateAvailable, models.StateImporting, false},
		{"failed retry to approved", models.StateFailed, models.StateApproved, true},
		{"failed to available", models.StateFailed, models.StateAvailable, false},
		{"self transition is a no-op", models.StateDownloading, models.StateDownloading, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.legal, CanTransitionRequest(tt.from, tt.to))
		})
	}
}

func TestEpisodeTransitionTable(t *testing.T) {
	// Episodes never occupy the request-only states.
	assert.False(t, CanTransitionEpisode(models.StateRequested, models.StateApproved))
	assert.False(t, CanTransitionEpisode(models.StateFailed, models.StateApproved), "episodes have no retry edge")

	assert.True(t, CanTransitionEpisode(models.StateGrabbing, models.StateDownloading))
	assert.True(t, CanTransitionEpisode(models.StateDownloaded, models.StateAnimeMatching))
	assert.True(t, CanTransitionEpisode(models.StateImporting, models.StateAvailable))
	assert.True(t, CanTransitionEpisode(models.StateAvailable, models.StateFailed))
	assert.False(t, CanTransitionEpisode(models.StateGrabbing, models.StateAvailable))
}

func TestValidateRequestError(t *testing.T) {
	err := ValidateRequest(models.StateRequested, models.StateDownloading)
	require.Error(t, err)

	var invalid *ErrInvalidTransition
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.StateRequested, invalid.From)
	assert.Equal(t, models.StateDownloading, invalid.To)
}

func TestImportTarget(t *testing.T) {
	assert.Equal(t, models.StateAnimeMatching, ImportTarget(true))
	assert.Equal(t, models.StateImporting, ImportTarget(false))
}

func TestStepsToAvailable(t *testing.T) {
	tests := []struct {
		name  string
		from  models.State
		anime bool
		want  []models.State
	}{
		{"downloaded steps through importing", models.StateDownloaded, false,
			[]models.State{models.StateImporting, models.StateAvailable}},
		{"downloaded anime steps through matching", models.StateDownloaded, true,
			[]models.State{models.StateAnimeMatching, models.StateAvailable}},
		{"importing one hop", models.StateImporting, false,
			[]models.State{models.StateAvailable}},
		{"downloading full chain", models.StateDownloading, false,
			[]models.State{models.StateDownloaded, models.StateImporting, models.StateAvailable}},
		{"failed retries through approval", models.StateFailed, false,
			[]models.State{models.StateApproved, models.StateGrabbing, models.StateDownloading,
				models.StateDownloaded, models.StateImporting, models.StateAvailable}},
		{"already available", models.StateAvailable, false, []models.State{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := StepsToAvailable(tt.from, tt.anime)
			assert.Equal(t, tt.want, steps)

			cur := tt.from
			for _, next := range steps {
				assert.True(t, CanTransitionRequest(cur, next), "%s -> %s", cur, next)
				cur = next
			}
		})
	}
}

func TestEpisodeStepsToAvailable(t *testing.T) {
	assert.Equal(t, []models.State{models.StateImporting, models.StateAvailable},
		EpisodeStepsToAvailable(models.StateDownloaded, false))
	assert.Equal(t, []models.State{}, EpisodeStepsToAvailable(models.StateAvailable, false))
	assert.Nil(t, EpisodeStepsToAvailable(models.StateFailed, false), "episodes have no retry edge")
	assert.Nil(t, EpisodeStepsToAvailable(models.StateRequested, false))
}

func TestInferAnime(t *testing.T) {
	tests := []struct {
		name       string
		tags       []string
		seriesType string
		path       string
		want       models.AnimeFlag
	}{
		{"indexer tag", []string{"anime", "hd"}, "", "", models.AnimeYes},
		{"tag case insensitive", []string{"Anime"}, "", "", models.AnimeYes},
		{"sonarr series type", nil, "anime", "", models.AnimeYes},
		{"path under anime root", nil, "", "/data/anime/movies/Film", models.AnimeYes},
		{"no signal", []string{"hd", "remux"}, "standard", "/data/movies/Film", models.AnimeNo},
		{"empty everything", nil, "", "", models.AnimeNo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferAnime(tt.tags, tt.seriesType, tt.path, "/data/anime"))
		})
	}
}

func TestDeriveRequestState(t *testing.T) {
	eps := func(states ...models.State) []models.Episode {
		out := make([]models.Episode, len(states))
		for i, s := range states {
			out[i] = models.Episode{State: s}
		}
		return out
	}

	tests := []struct {
		name string
		eps  []models.Episode
		want models.State
	}{
		{"all available", eps(models.StateAvailable, models.StateAvailable), models.StateAvailable},
		{"any failed wins over progress", eps(models.StateAvailable, models.StateFailed, models.StateImporting), models.StateFailed},
		{"highest priority in-progress", eps(models.StateGrabbing, models.StateImporting, models.StateDownloading), models.StateImporting},
		{"anime matching outranks importing", eps(models.StateImporting, models.StateAnimeMatching), models.StateAnimeMatching},
		{"partial availability keeps in-progress", eps(models.StateAvailable, models.StateDownloading), models.StateDownloading},
		{"single episode", eps(models.StateDownloaded), models.StateDownloaded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveRequestState(tt.eps))
		})
	}
}

func TestDeriveRequestStateEmpty(t *testing.T) {
	assert.Equal(t, models.State(""), DeriveRequestState(nil))
}
