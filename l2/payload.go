package l2

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Keksclan/spawncache/descriptor"
	"github.com/Keksclan/spawncache/record"
	"github.com/Keksclan/spawncache/vectorstore"
)

// Payload keys. Timestamps are unix milliseconds.
const (
	FieldKind           = "kind"
	FieldCapabilities   = "capabilities"
	FieldSpecialization = "specialization"
	FieldContentHash    = "content_hash"
	FieldDescriptor     = "descriptor"
	FieldArtifact       = "artifact"
	FieldCreatedAt      = "created_at"
	FieldLastAccessedAt = "last_accessed_at"
	FieldAccessCount    = "access_count"
	FieldFactoryLatency = "factory_latency_ms"
	FieldTTLExpires     = "ttl_expires"
	FieldFallback       = "fallback"
)

var errMalformedPayload = errors.New("l2: malformed payload")

func toPayload[A any](rec record.Record[A], codec Codec[A]) (vectorstore.Payload, error) {
	artifact, err := codec.Marshal(rec.Artifact)
	if err != nil {
		return nil, fmt.Errorf("l2: encode artifact: %w", err)
	}
	desc, err := json.Marshal(rec.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("l2: encode descriptor: %w", err)
	}

	p := Metadata(rec)
	p[FieldDescriptor] = string(desc)
	p[FieldArtifact] = string(artifact)
	return p, nil
}

// Metadata returns the filterable payload fields of rec, without the encoded
// descriptor and artifact. Filters built for the store can be evaluated
// against it in memory.
func Metadata[A any](rec record.Record[A]) vectorstore.Payload {
	caps := rec.Descriptor.Capabilities
	if caps == nil {
		caps = []string{}
	}
	return vectorstore.Payload{
		FieldKind:           rec.Descriptor.Kind,
		FieldCapabilities:   caps,
		FieldSpecialization: rec.Descriptor.Specialization,
		FieldContentHash:    rec.ContentHash,
		FieldCreatedAt:      rec.CreatedAt.UnixMilli(),
		FieldLastAccessedAt: rec.LastAccessedAt.UnixMilli(),
		FieldAccessCount:    rec.AccessCount,
		FieldFactoryLatency: rec.FactoryLatency.Milliseconds(),
		FieldTTLExpires:     rec.ExpiresAt.UnixMilli(),
		FieldFallback:       rec.Fallback,
	}
}

// accessPayload is the partial update written on every L2-served hit.
func accessPayload[A any](rec record.Record[A]) vectorstore.Payload {
	return vectorstore.Payload{
		FieldLastAccessedAt: rec.LastAccessedAt.UnixMilli(),
		FieldAccessCount:    rec.AccessCount,
		FieldTTLExpires:     rec.ExpiresAt.UnixMilli(),
	}
}

func fromPayload[A any](id string, p vectorstore.Payload, codec Codec[A]) (record.Record[A], error) {
	var rec record.Record[A]

	desc, ok := p[FieldDescriptor].(string)
	if !ok {
		return rec, fmt.Errorf("%w: %s missing", errMalformedPayload, FieldDescriptor)
	}
	if err := json.Unmarshal([]byte(desc), &rec.Descriptor); err != nil {
		return rec, fmt.Errorf("%w: %s: %v", errMalformedPayload, FieldDescriptor, err)
	}

	raw, ok := p[FieldArtifact].(string)
	if !ok {
		return rec, fmt.Errorf("%w: %s missing", errMalformedPayload, FieldArtifact)
	}
	artifact, err := codec.Unmarshal([]byte(raw))
	if err != nil {
		return rec, fmt.Errorf("%w: %s: %v", errMalformedPayload, FieldArtifact, err)
	}

	rec.ID = id
	rec.Artifact = artifact
	rec.ContentHash, _ = p[FieldContentHash].(string)
	rec.Fallback, _ = p[FieldFallback].(bool)
	rec.CreatedAt = millis(p[FieldCreatedAt])
	rec.LastAccessedAt = millis(p[FieldLastAccessedAt])
	rec.ExpiresAt = millis(p[FieldTTLExpires])
	if n, ok := vectorstore.ToFloat(p[FieldAccessCount]); ok {
		rec.AccessCount = int64(n)
	}
	if n, ok := vectorstore.ToFloat(p[FieldFactoryLatency]); ok {
		rec.FactoryLatency = time.Duration(n) * time.Millisecond
	}

	if rec.AccessCount < 1 {
		rec.AccessCount = 1
	}
	if rec.ContentHash == "" {
		rec.ContentHash = rec.Descriptor.ContentHash()
	}
	return rec, nil
}

func millis(v any) time.Time {
	n, ok := vectorstore.ToFloat(v)
	if !ok {
		return time.Time{}
	}
	return time.UnixMilli(int64(n))
}

// FilterFor builds a payload filter matching every record whose descriptor
// has d's kind, d's specialization (if set) and at least d's capabilities.
func FilterFor(d descriptor.Descriptor) vectorstore.Filter {
	d = d.Stable()
	f := vectorstore.Filter{Must: []vectorstore.Condition{vectorstore.MatchValue(FieldKind, d.Kind)}}
	if d.Specialization != "" {
		f.Must = append(f.Must, vectorstore.MatchValue(FieldSpecialization, d.Specialization))
	}
	for _, c := range d.Capabilities {
		f.Must = append(f.Must, vectorstore.MatchValue(FieldCapabilities, c))
	}
	return f
}
