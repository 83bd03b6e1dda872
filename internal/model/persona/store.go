package persona

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Store exposes persona retrieval for HTTP handlers.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Persona
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
func NewMemoryStore(items []Persona) *MemoryStore {
	return &MemoryStore{items: append([]Persona(nil), items...)}
}

// List returns the persona list.
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID looks up a persona by identifier, ignoring case.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	id = strings.TrimSpace(id)
	for _, item := range s.items {
		if strings.EqualFold(item.ID, id) {
			return item, true
		}
	}
	return Persona{}, false
}

type catalogFile struct {
	Personas []Persona `toml:"personas"`
}

// LoadFile reads [[personas]] tables from a TOML file and merges them over
// base: entries with a known id replace it field by field where set, new ids
// are appended.
func LoadFile(path string, base []Persona) ([]Persona, error) {
	var file catalogFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("decode persona file %s: %w", path, err)
	}

	merged := append([]Persona(nil), base...)
	for _, p := range file.Personas {
		if strings.TrimSpace(p.ID) == "" {
			return nil, fmt.Errorf("persona file %s: entry without id", path)
		}
		idx := -1
		for i := range merged {
			if strings.EqualFold(merged[i].ID, p.ID) {
				idx = i
				break
			}
		}
		if idx < 0 {
			merged = append(merged, p)
			continue
		}
		merged[idx] = overlay(merged[idx], p)
	}
	return merged, nil
}

func overlay(dst, src Persona) Persona {
	set := func(d *string, s string) {
		if strings.TrimSpace(s) != "" {
			*d = s
		}
	}
	set(&dst.Name, src.Name)
	set(&dst.KoreanName, src.KoreanName)
	set(&dst.Title, src.Title)
	set(&dst.Brokerage, src.Brokerage)
	set(&dst.Region, src.Region)
	set(&dst.Personality, src.Personality)
	set(&dst.OpeningLine, src.OpeningLine)
	set(&dst.VoiceID, src.VoiceID)
	if len(src.Expertise) > 0 {
		dst.Expertise = src.Expertise
	}
	if len(src.Rules) > 0 {
		dst.Rules = src.Rules
	}
	for _, pair := range []struct{ d, s *Replies }{
		{&dst.EnglishReplies, &src.EnglishReplies},
		{&dst.KoreanReplies, &src.KoreanReplies},
	} {
		set(&pair.d.Redirect, pair.s.Redirect)
		set(&pair.d.TooLong, pair.s.TooLong)
		set(&pair.d.QuotaExceeded, pair.s.QuotaExceeded)
		set(&pair.d.CircuitOpen, pair.s.CircuitOpen)
		set(&pair.d.Generic, pair.s.Generic)
		set(&pair.d.Offline, pair.s.Offline)
	}
	return dst
}
