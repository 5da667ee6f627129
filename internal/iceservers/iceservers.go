// Package iceservers resolves the STUN/TURN server list handed to the
// peer connection.
package iceservers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

var ErrEmpty = errors.New("ice server list is empty")

// Provider returns the ICE servers for a new peer connection.
type Provider interface {
	ICEServers(ctx context.Context) ([]webrtc.ICEServer, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) ([]webrtc.ICEServer, error)

func (f ProviderFunc) ICEServers(ctx context.Context) ([]webrtc.ICEServer, error) {
	return f(ctx)
}

// Static always returns list.
func Static(list []webrtc.ICEServer) Provider {
	return ProviderFunc(func(context.Context) ([]webrtc.ICEServer, error) {
		out := make([]webrtc.ICEServer, len(list))
		copy(out, list)
		return out, nil
	})
}

// Remote fetches the list from url on every call. The body is a JSON array
// of {"urls", "username", "credential"} objects; urls may be a string or
// an array of strings.
func Remote(url string, client *http.Client) Provider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return ProviderFunc(func(ctx context.Context) ([]webrtc.ICEServer, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch ice servers: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch ice servers: unexpected status %s", resp.Status)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read ice servers: %w", err)
		}
		return Decode(body)
	})
}

// Entry is the wire form of one ICE server.
type Entry struct {
	URLs       URLList `json:"urls"`
	Username   string  `json:"username,omitempty"`
	Credential string  `json:"credential,omitempty"`
}

// URLList decodes either a single string or an array of strings.
type URLList []string

func (u *URLList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*u = URLList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("urls must be a string or an array of strings: %w", err)
	}
	*u = many
	return nil
}

// Decode parses a JSON ICE server list.
func Decode(b []byte) ([]webrtc.ICEServer, error) {
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("decode ice servers: %w", err)
	}
	out := make([]webrtc.ICEServer, 0, len(entries))
	for _, e := range entries {
		s := webrtc.ICEServer{URLs: []string(e.URLs), Username: e.Username}
		if e.Credential != "" {
			s.Credential = e.Credential
		}
		out = append(out, s)
	}
	return out, nil
}

// Encode renders list in the format Decode accepts.
func Encode(list []webrtc.ICEServer) ([]byte, error) {
	entries := make([]Entry, 0, len(list))
	for _, s := range list {
		e := Entry{URLs: URLList(s.URLs), Username: s.Username}
		if c, ok := s.Credential.(string); ok {
			e.Credential = c
		}
		entries = append(entries, e)
	}
	return json.Marshal(entries)
}

// Validate rejects an empty list and any URL that is not a well-formed
// stun, stuns, turn or turns URI.
func Validate(list []webrtc.ICEServer) error {
	if len(list) == 0 {
		return ErrEmpty
	}
	for i, s := range list {
		if len(s.URLs) == 0 {
			return fmt.Errorf("ice server %d has no urls", i)
		}
		for _, raw := range s.URLs {
			if _, err := stun.ParseURI(raw); err != nil {
				return fmt.Errorf("ice server %d: invalid url %q: %w", i, raw, err)
			}
		}
	}
	return nil
}

// Resolve fetches a list from p and validates it.
func Resolve(ctx context.Context, p Provider) ([]webrtc.ICEServer, error) {
	list, err := p.ICEServers(ctx)
	if err != nil {
		return nil, err
	}
	if err := Validate(list); err != nil {
		return nil, err
	}
	return list, nil
}
