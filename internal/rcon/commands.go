package rcon

import (
	"strconv"
	"strings"
)

// Console commands understood by the game server. The executor itself is
// command-agnostic; these only build the strings the API and console send.
const (
	CmdTime    = "/time"
	CmdPlayers = "/players online"
	CmdSave    = "/server-save"
)

// SpeedCommand sets the game speed multiplier.
func SpeedCommand(speed float64) string {
	return "/c game.speed = " + strconv.FormatFloat(speed, 'f', -1, 64)
}

// PauseCommand pauses or resumes the simulation.
func PauseCommand(paused bool) string {
	return "/c game.tick_paused = " + strconv.FormatBool(paused)
}

// SaveCommand triggers a server-side save, optionally under a name.
func SaveCommand(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return CmdSave
	}
	return CmdSave + " " + name
}
