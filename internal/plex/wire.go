// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package plex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// The upstream wraps every payload in a MediaContainer envelope and is
// loose about scalar types: ids arrive as "123" or 123 depending on the
// server build, sizes occasionally as quoted numbers. The flex types
// below absorb that.

// flexID handles JSON ids that can be "123" or 123.
type flexID string

func (s *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}

	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexID(v)
		return nil
	}

	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("id: invalid json value: %s", string(b))
	}

	if i, err := n.Int64(); err == nil {
		*s = flexID(strconv.FormatInt(i, 10))
		return nil
	}
	*s = flexID(n.String())
	return nil
}

// flexInt64 handles JSON numbers that can be 123 or "123".
type flexInt64 int64

func (v *flexInt64) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		*v = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*v = 0
			return nil
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("size: invalid string %q", s)
		}
		*v = flexInt64(i)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("size: invalid json value: %s", string(b))
	}
	*v = flexInt64(int64(f))
	return nil
}

// unixTime decodes upstream unix-second timestamps. Zero and null map to
// the zero time so callers can treat "never" uniformly.
type unixTime time.Time

func (t *unixTime) UnmarshalJSON(b []byte) error {
	var secs flexInt64
	if err := secs.UnmarshalJSON(b); err != nil {
		return err
	}
	if secs == 0 {
		*t = unixTime(time.Time{})
		return nil
	}
	*t = unixTime(time.Unix(int64(secs), 0).UTC())
	return nil
}

func (t unixTime) Time() time.Time { return time.Time(t) }

type wireAccount struct {
	ID          flexID `json:"id"`
	Name        string `json:"name"`
	Owner       bool   `json:"owner"`
	Guest       bool   `json:"guest"`
	AccessToken string `json:"accessToken"`
}

func (a wireAccount) kind() string {
	switch {
	case a.Owner:
		return KindOwner
	case a.Guest:
		return KindGuest
	default:
		return KindHousehold
	}
}

type wirePart struct {
	File string    `json:"file"`
	Size flexInt64 `json:"size"`
}

type wireMedia struct {
	Part []wirePart `json:"Part"`
}

type wireUser struct {
	ID    flexID `json:"id"`
	Title string `json:"title"`
}

type wirePlayer struct {
	State string `json:"state"`
}

type wireGuid struct {
	ID string `json:"id"`
}

type wireMetadata struct {
	RatingKey            flexID      `json:"ratingKey"`
	GrandparentRatingKey flexID      `json:"grandparentRatingKey"`
	Type                 string      `json:"type"`
	Title                string      `json:"title"`
	Year                 int         `json:"year"`
	LastViewedAt         unixTime    `json:"lastViewedAt"`
	AddedAt              unixTime    `json:"addedAt"`
	SessionKey           flexID      `json:"sessionKey"`
	User                 *wireUser   `json:"User"`
	Player               *wirePlayer `json:"Player"`
	Media                []wireMedia `json:"Media"`
	Guid                 []wireGuid  `json:"Guid"`
}

// filePath returns the first part file, or "" when the item carries no
// local media (remote watchlist stubs do this).
func (m wireMetadata) filePath() (string, int64) {
	for _, media := range m.Media {
		for _, part := range media.Part {
			if part.File != "" {
				return part.File, int64(part.Size)
			}
		}
	}
	return "", 0
}

// mediaRef maps one metadata item onto a MediaRef. ok is false when the
// item is not a cacheable file-backed movie or episode.
func (m wireMetadata) mediaRef() (MediaRef, bool) {
	if m.Type != KindMovie && m.Type != KindEpisode {
		return MediaRef{}, false
	}
	path, size := m.filePath()
	if path == "" {
		return MediaRef{}, false
	}
	return MediaRef{
		LogicalPath:    path,
		SizeHint:       size,
		UpstreamID:     string(m.RatingKey),
		Kind:           m.Type,
		LastWatchedAt:  m.LastViewedAt.Time(),
		AvailableSince: m.AddedAt.Time(),
	}, true
}

// discoverItem maps one feed entry. Discovery items usually have no
// local media yet, so only title or an external id is required.
func (m wireMetadata) discoverItem() (DiscoverItem, bool) {
	if m.Type != "" && m.Type != KindMovie && m.Type != KindEpisode {
		return DiscoverItem{}, false
	}
	item := DiscoverItem{
		Title: m.Title,
		Year:  m.Year,
		Kind:  m.Type,
	}
	for _, g := range m.Guid {
		if g.ID != "" {
			item.ExternalIDs = append(item.ExternalIDs, g.ID)
		}
	}
	if item.Title == "" && len(item.ExternalIDs) == 0 {
		return DiscoverItem{}, false
	}
	return item, true
}

// session maps one /status/sessions item. ok is false when the session
// has no resolvable file path or user.
func (m wireMetadata) session() (Session, bool) {
	path, _ := m.filePath()
	if path == "" || m.User == nil {
		return Session{}, false
	}
	state := ""
	if m.Player != nil {
		state = m.Player.State
	}
	return Session{
		ID:          string(m.SessionKey),
		UserID:      string(m.User.ID),
		LogicalPath: path,
		State:       state,
	}, true
}

type wireContainer struct {
	MediaContainer struct {
		Account  []wireAccount  `json:"Account"`
		Metadata []wireMetadata `json:"Metadata"`
	} `json:"MediaContainer"`
}
