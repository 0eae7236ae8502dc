// Package reply parses the text replies of well-known console commands.
package reply

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Player is one entry of a player listing.
type Player struct {
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

// PlayerList is a parsed player listing.
type PlayerList struct {
	// Count is the number the server announced in the header.
	Count   int      `json:"count"`
	Players []Player `json:"players"`
}

var (
	rePlayersHeader = regexp.MustCompile(`^(?:Online\s+)?[Pp]layers\s*\((\d+)\):?$`)
	rePlayerEntry   = regexp.MustCompile(`^(\S+)(?:\s+\((online|offline)\))?$`)
)

// ParsePlayers parses a reply like:
//
//	Online players (2):
//	  alice (online)
//	  bob (online)
func ParsePlayers(body string) (PlayerList, error) {
	list := PlayerList{Players: make([]Player, 0)}
	headerSeen := false

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := cleanLine(scanner.Text())
		if line == "" {
			continue
		}

		if !headerSeen {
			matches := rePlayersHeader.FindStringSubmatch(line)
			if matches == nil {
				return list, fmt.Errorf("unrecognized player list header %q", line)
			}
			list.Count, _ = strconv.Atoi(matches[1])
			headerSeen = true
			continue
		}

		matches := rePlayerEntry.FindStringSubmatch(line)
		if matches == nil {
			return list, fmt.Errorf("unrecognized player entry %q", line)
		}
		list.Players = append(list.Players, Player{
			Name:   matches[1],
			Online: matches[2] != "offline",
		})
	}
	if err := scanner.Err(); err != nil {
		return list, err
	}
	if !headerSeen {
		return list, fmt.Errorf("empty player list reply")
	}
	return list, nil
}

// cleanLine removes a BOM and NUL padding from a line.
func cleanLine(line string) string {
	line = strings.TrimPrefix(line, "\xef\xbb\xbf")
	line = strings.ReplaceAll(line, "\x00", "")
	return strings.TrimSpace(line)
}
