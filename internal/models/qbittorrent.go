// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package models

// QBittorrentWebhook is the minimal "on torrent complete" payload the
// tracker accepts from qBittorrent's external-program hook.
type QBittorrentWebhook struct {
	Hash string `json:"hash" validate:"required,len=40,hexadecimal"`
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// QBittorrentTorrent is one entry of /api/v2/torrents/info.
type QBittorrentTorrent struct {
	Hash     string  `json:"hash"`
	Name     string  `json:"name"`
	Progress float64 `json:"progress"` // 0.0 - 1.0
	State    string  `json:"state"`
	SavePath string  `json:"save_path"`
	Size     int64   `json:"size"`
	ETA      int64   `json:"eta"`
	DLSpeed  int64   `json:"dlspeed"`
}

// seedingStates are the qBittorrent states that mean the payload is
// fully on disk even when progress reports below 1.0 (e.g. re-checks).
var seedingStates = map[string]bool{
	"uploading":  true,
	"stalledUP":  true,
	"queuedUP":   true,
	"forcedUP":   true,
	"pausedUP":   true,
	"stoppedUP":  true,
	"checkingUP": true,
}

// IsComplete reports whether the torrent is fully downloaded, either by
// progress or by occupying a seeding-class state.
func (t *QBittorrentTorrent) IsComplete() bool {
	return t.Progress >= 1.0 || seedingStates[t.State]
}

// ProgressPercent returns download progress clamped to 0-100.
func (t *QBittorrentTorrent) ProgressPercent() float64 {
	p := t.Progress * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
