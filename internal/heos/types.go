package heos

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID is an identifier the device reports either as a JSON number or a string
// (pids and media ids vary by firmware). It always unmarshals to a string.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Player is one entry of a player/get_players response payload.
type Player struct {
	Name    string `json:"name"`
	PID     ID     `json:"pid"`
	Model   string `json:"model"`
	Version string `json:"version"`
	IP      string `json:"ip"`
	Network string `json:"network"`
	Lineout int    `json:"lineout"`
}

// NowPlayingMedia is the payload of a player/get_now_playing_media response.
type NowPlayingMedia struct {
	Type     string `json:"type"`
	Song     string `json:"song"`
	Album    string `json:"album"`
	Artist   string `json:"artist"`
	ImageURL string `json:"image_url"`
	MID      ID     `json:"mid"`
	QID      int    `json:"qid"`
	SID      int    `json:"sid"`
}
