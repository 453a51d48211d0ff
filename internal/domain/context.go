package domain

import "github.com/google/uuid"

// EvaluationContext carries identification and targeting attributes for a
// single evaluation. It is constructed by the consumer, optionally merged
// into a process-wide context, and cloned defensively on read.
type EvaluationContext struct {
	UserID            string
	Anonymous         bool
	Email             string
	Name              string
	Country           string
	DeviceType        string
	OS                string
	Browser           string
	Custom            map[string]interface{}
	PrivateAttributes map[string]struct{}
}

// NewAnonymousContext synthesizes a context for an anonymous caller with a
// generated UserID, matching the spec's "synthesized for anonymous
// contexts" requirement.
func NewAnonymousContext() EvaluationContext {
	return EvaluationContext{
		UserID:    "anon-" + uuid.NewString(),
		Anonymous: true,
		Custom:    make(map[string]interface{}),
	}
}

// NewContext creates an identified context for the given user id.
func NewContext(userID string) EvaluationContext {
	return EvaluationContext{
		UserID: userID,
		Custom: make(map[string]interface{}),
	}
}

// WithCustom sets a custom attribute and returns the receiver (fluent).
func (c EvaluationContext) WithCustom(key string, value interface{}) EvaluationContext {
	if c.Custom == nil {
		c.Custom = make(map[string]interface{})
	}
	c.Custom[key] = value
	return c
}

// WithPrivateAttribute marks a field name to be stripped before the context
// is ever transmitted (currently only relevant to event-queue context
// snapshots; local evaluation never transmits the context).
func (c EvaluationContext) WithPrivateAttribute(field string) EvaluationContext {
	if c.PrivateAttributes == nil {
		c.PrivateAttributes = make(map[string]struct{})
	}
	c.PrivateAttributes[field] = struct{}{}
	return c
}

// Clone returns a defensive copy: maps are copied so a caller mutating the
// original after passing it in cannot affect a context already in flight.
func (c EvaluationContext) Clone() EvaluationContext {
	cp := c
	if c.Custom != nil {
		cp.Custom = make(map[string]interface{}, len(c.Custom))
		for k, v := range c.Custom {
			cp.Custom[k] = v
		}
	}
	if c.PrivateAttributes != nil {
		cp.PrivateAttributes = make(map[string]struct{}, len(c.PrivateAttributes))
		for k := range c.PrivateAttributes {
			cp.PrivateAttributes[k] = struct{}{}
		}
	}
	return cp
}

// Merge overlays other's non-zero fields, custom attributes and private
// attribute names onto a copy of c.
func (c EvaluationContext) Merge(other EvaluationContext) EvaluationContext {
	merged := c.Clone()
	if other.UserID != "" {
		merged.UserID = other.UserID
		merged.Anonymous = other.Anonymous
	}
	if other.Email != "" {
		merged.Email = other.Email
	}
	if other.Name != "" {
		merged.Name = other.Name
	}
	if other.Country != "" {
		merged.Country = other.Country
	}
	if other.DeviceType != "" {
		merged.DeviceType = other.DeviceType
	}
	if other.OS != "" {
		merged.OS = other.OS
	}
	if other.Browser != "" {
		merged.Browser = other.Browser
	}
	for k, v := range other.Custom {
		merged = merged.WithCustom(k, v)
	}
	for k := range other.PrivateAttributes {
		merged = merged.WithPrivateAttribute(k)
	}
	return merged
}

// Sanitized returns a copy of c with every field named in PrivateAttributes
// zeroed or removed, safe for transmission in an event payload.
func (c EvaluationContext) Sanitized() EvaluationContext {
	cp := c.Clone()
	if len(cp.PrivateAttributes) == 0 {
		return cp
	}
	strip := func(field string, target *string) {
		if _, ok := cp.PrivateAttributes[field]; ok {
			*target = ""
		}
	}
	strip("email", &cp.Email)
	strip("name", &cp.Name)
	strip("country", &cp.Country)
	strip("deviceType", &cp.DeviceType)
	strip("os", &cp.OS)
	strip("browser", &cp.Browser)
	for field := range cp.PrivateAttributes {
		delete(cp.Custom, field)
	}
	return cp
}
