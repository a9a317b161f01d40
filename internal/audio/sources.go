// Package audio discovers PulseAudio microphones and plays PCM through Pulse.
package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// ErrNoSources is returned when the Pulse server exposes no input source.
var ErrNoSources = errors.New("no audio input sources found")

// Source describes one Pulse input source usable as the clip's audio track.
type Source struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// Usable reports whether the source can record right now.
func (s Source) Usable() bool {
	return s.Available && !s.Muted
}

// Selection is the resolved microphone plus optional fallback context.
type Selection struct {
	Source   Source
	Warning  string
	Fallback bool
}

func newClient(icon string) (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("silencevoice"),
		pulse.ClientApplicationIconName(icon),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// ListSources returns Pulse input sources with default/availability metadata.
func ListSources(_ context.Context) ([]Source, error) {
	client, err := newClient("camera-web")
	if err != nil {
		return nil, err
	}
	defer client.Close()

	def, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}

	var infos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &infos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	sources := make([]Source, 0, len(infos))
	for _, info := range infos {
		if info == nil || isMonitor(info) {
			continue
		}
		sources = append(sources, Source{
			ID:          info.SourceName,
			Description: info.Device,
			State:       sourceStateString(info.State),
			Available:   portAvailable(info),
			Muted:       info.Mute,
			Default:     info.SourceName == def.ID(),
		})
	}
	return sources, nil
}

// SelectSource resolves the preferred/fallback microphone against live sources.
func SelectSource(ctx context.Context, preferred, fallback string) (Selection, error) {
	sources, err := ListSources(ctx)
	if err != nil {
		return Selection{}, err
	}
	return selectSource(sources, preferred, fallback)
}

// selectSource applies the selection policy: the preferred source (or the
// server default) when usable, otherwise the fallback (or the default).
func selectSource(sources []Source, preferred, fallback string) (Selection, error) {
	if len(sources) == 0 {
		return Selection{}, ErrNoSources
	}

	lookup := func(term string) (*Source, error) {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" || term == "default" {
			for i := range sources {
				if sources[i].Default {
					return &sources[i], nil
				}
			}
			return nil, errors.New("default audio source is unavailable")
		}
		for i := range sources {
			if sourceMatches(sources[i], term) {
				return &sources[i], nil
			}
		}
		return nil, fmt.Errorf("audio source %q did not match any device", term)
	}

	primary, err := lookup(preferred)
	if err != nil {
		return Selection{}, err
	}
	if primary.Usable() {
		return Selection{Source: *primary}, nil
	}

	reason := "unavailable"
	if primary.Muted {
		reason = "muted"
	}

	backup, err := lookup(fallback)
	if err != nil {
		return Selection{}, fmt.Errorf("audio source %q is %s and no usable fallback: %w", primary.ID, reason, err)
	}
	if !backup.Available {
		return Selection{}, fmt.Errorf("audio fallback %q is not available", backup.ID)
	}
	if backup.Muted {
		return Selection{}, fmt.Errorf("audio fallback %q is muted", backup.ID)
	}

	return Selection{
		Source:   *backup,
		Warning:  fmt.Sprintf("audio source %q is %s; falling back to %q", primary.ID, reason, backup.ID),
		Fallback: backup.ID != primary.ID,
	}, nil
}

// sourceMatches reports whether term is a substring of the id or description.
func sourceMatches(source Source, term string) bool {
	if term == "" {
		return false
	}
	return strings.Contains(strings.ToLower(source.ID), term) ||
		strings.Contains(strings.ToLower(source.Description), term)
}

func isMonitor(info *pulseproto.GetSourceInfoReply) bool {
	return strings.HasSuffix(info.SourceName, ".monitor")
}

func sourceStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// portAvailable maps the active port's availability to a boolean.
func portAvailable(info *pulseproto.GetSourceInfoReply) bool {
	if info == nil {
		return false
	}
	for _, port := range info.Ports {
		if port.Name == info.ActivePortName {
			// PulseAudio values: unknown=0, no=1, yes=2.
			return port.Available != 1
		}
	}
	return true
}
