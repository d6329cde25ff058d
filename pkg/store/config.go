package store

import (
	"strings"
	"time"
	_ "time/tzdata"
)

// DefaultTimezone is used when a business has none configured.
const DefaultTimezone = "Australia/Sydney"

// DefaultGreeting is spoken when a business has no greeting configured.
const DefaultGreeting = "G'day! Welcome to {name}. How can I help you today?"

// AIConfig is the typed per-business receptionist configuration. Zero values
// mean "use the default"; WithDefaults fills them.
type AIConfig struct {
	Greeting     string       `json:"greeting,omitempty"`
	VoiceID      string       `json:"voice_id,omitempty"`
	Language     string       `json:"language,omitempty"`
	Tone         string       `json:"tone,omitempty"`
	Timezone     string       `json:"timezone,omitempty"`
	Integrations Integrations `json:"integrations,omitempty"`
}

// Integrations selects the booking provider.
type Integrations struct {
	Provider string            `json:"provider,omitempty"`
	Settings map[string]string `json:"settings,omitempty"`
}

// WithDefaults returns a copy with every empty field set to its default.
func (c AIConfig) WithDefaults() AIConfig {
	if strings.TrimSpace(c.Greeting) == "" {
		c.Greeting = DefaultGreeting
	}
	if c.Language == "" {
		c.Language = "en-AU"
	}
	if c.Tone == "" {
		c.Tone = "warm, friendly, and professional"
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.Integrations.Provider == "" {
		c.Integrations.Provider = "native"
	}
	return c
}

// Location loads the configured zone, falling back to DefaultTimezone.
func (c AIConfig) Location() *time.Location {
	name := c.Timezone
	if name == "" {
		name = DefaultTimezone
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GreetingFor renders the greeting for a business name.
func (c AIConfig) GreetingFor(businessName string) string {
	g := c.WithDefaults().Greeting
	if businessName == "" {
		businessName = "us"
	}
	return strings.ReplaceAll(g, "{name}", businessName)
}
