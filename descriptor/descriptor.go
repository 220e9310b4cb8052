// Package descriptor defines the caller-supplied description of a wanted
// artifact and its canonical, deterministic text form.
//
// Two descriptors that differ only in volatile fields ([Descriptor.ID],
// [Descriptor.RequestedAt]) or in the order of set-valued fields serialise to
// byte-identical text and therefore share an embedding and a content hash.
package descriptor

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrInvalidDescriptor is returned by [Descriptor.Validate] when a required
// field is missing.
var ErrInvalidDescriptor = errors.New("descriptor: invalid")

// Descriptor describes the artifact a caller wants. Callers must treat a
// Descriptor as immutable once it has been passed to the cache.
type Descriptor struct {
	// Kind is the required category tag, e.g. "coder" or "reviewer".
	Kind string `json:"kind"`

	// Name is a human-readable label.
	Name string `json:"name,omitempty"`

	// Capabilities is the required, non-empty capability set.
	Capabilities []string `json:"capabilities"`

	Specialization string   `json:"specialization,omitempty"`
	Runtime        string   `json:"runtime,omitempty"`
	Context        string   `json:"context,omitempty"`
	Tags           []string `json:"tags,omitempty"`

	// ID and RequestedAt are volatile and never part of the canonical text.
	ID          string    `json:"id,omitempty"`
	RequestedAt time.Time `json:"requested_at,omitzero"`
}

// Validate reports whether the required fields are present.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Kind) == "" {
		return fmt.Errorf("%w: kind is required", ErrInvalidDescriptor)
	}
	if len(NormalizeSet(d.Capabilities)) == 0 {
		return fmt.Errorf("%w: at least one capability is required", ErrInvalidDescriptor)
	}
	return nil
}

// Stable returns a copy with volatile fields cleared and set-valued fields
// normalised.
func (d Descriptor) Stable() Descriptor {
	return Descriptor{
		Kind:           strings.TrimSpace(d.Kind),
		Name:           strings.TrimSpace(d.Name),
		Capabilities:   NormalizeSet(d.Capabilities),
		Specialization: strings.TrimSpace(d.Specialization),
		Runtime:        strings.TrimSpace(d.Runtime),
		Context:        strings.TrimSpace(d.Context),
		Tags:           NormalizeSet(d.Tags),
	}
}

// Text returns the canonical embedding input for d. Field order is fixed and
// empty optional fields are omitted.
func (d Descriptor) Text() string {
	s := d.Stable()

	var b strings.Builder
	writeField(&b, "kind", s.Kind)
	writeField(&b, "name", s.Name)
	writeField(&b, "capabilities", strings.Join(s.Capabilities, ", "))
	writeField(&b, "specialization", s.Specialization)
	writeField(&b, "runtime", s.Runtime)
	writeField(&b, "tags", strings.Join(s.Tags, ", "))
	writeField(&b, "context", s.Context)
	return strings.TrimSuffix(b.String(), "\n")
}

// ContentHash returns the hex SHA-256 of [Descriptor.Text].
func (d Descriptor) ContentHash() string {
	return HashText(d.Text())
}

// HashText returns the hex SHA-256 of text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// NormalizeSet trims, de-duplicates and sorts values, dropping empty ones.
func NormalizeSet(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func writeField(b *strings.Builder, key, val string) {
	if val == "" {
		return
	}
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(val)
	b.WriteByte('\n')
}
