// Package dedup computes idempotency keys and arbitrates concurrent
// reservations. A byte-identical re-upload, a semantically identical
// template, and a re-publish of the same opportunity are different failure
// modes, so each has its own key kind and they are never collapsed.
package dedup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Kind namespaces idempotency keys.
type Kind string

const (
	// KindDocument keys raw document content.
	KindDocument Kind = "document"
	// KindTemplate keys the content model of a generated template.
	KindTemplate Kind = "template"
	// KindPublish keys the publish-identifying field tuple.
	KindPublish Kind = "publish"
)

// DocumentKey hashes raw document bytes. Text-like content is normalized
// (CRLF to LF, trimmed) so the same text fetched from different servers
// keys identically; binary content hashes as-is.
func DocumentKey(data []byte, contentType string) string {
	if isTextContent(contentType) {
		data = normalizeText(data)
	}
	return hashHex(KindDocument, data)
}

// TemplateContent is the portion of a generated template that identifies it:
// same opportunity, same section structure, same notes means same template.
type TemplateContent struct {
	OpportunityID string            `json:"opportunity_id"`
	Sections      []TemplateSection `json:"sections"`
	FunderNotes   string            `json:"funder_notes"`
}

// TemplateSection is one ordered heading/instructions pair.
type TemplateSection struct {
	Heading      string `json:"heading"`
	Instructions string `json:"instructions"`
}

// TemplateKey hashes the canonical JSON of the template content model.
// Key order is fixed by sorting, so field ordering in callers cannot change
// the key.
func TemplateKey(content TemplateContent) (string, error) {
	canonical, err := canonicalJSON(content)
	if err != nil {
		return "", eris.Wrap(err, "dedup: canonicalize template content")
	}
	return hashHex(KindTemplate, canonical), nil
}

// PublishKey hashes the case-folded, whitespace-collapsed
// title|donor|deadline tuple.
func PublishKey(title, donor, deadline string) string {
	tuple := foldField(title) + "|" + foldField(donor) + "|" + foldField(deadline)
	return hashHex(KindPublish, []byte(tuple))
}

func hashHex(kind Kind, data []byte) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func isTextContent(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "text/") ||
		strings.Contains(ct, "html") ||
		strings.Contains(ct, "json") ||
		strings.Contains(ct, "xml")
}

func normalizeText(data []byte) []byte {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	return bytes.TrimSpace(data)
}

func foldField(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// canonicalJSON marshals v with object keys sorted at every level.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// KeyReserver is the persistence dedup relies on: an atomic insert-if-absent
// on (kind, key), plus deletion for releasing a reservation whose referent
// never materialized.
type KeyReserver interface {
	ReserveKey(ctx context.Context, kind, key, ref string) (existing string, reserved bool, err error)
	ReleaseKey(ctx context.Context, kind, key string) error
}

// Deduper arbitrates reservations. The store's insert-if-absent is the sole
// arbiter, so racing callers in this or any other process see exactly one
// winner without any in-process locking.
type Deduper struct {
	store KeyReserver
}

// NewDeduper creates a Deduper over the given reserver.
func NewDeduper(store KeyReserver) *Deduper {
	return &Deduper{store: store}
}

// LookupOrReserve reserves key for ref, or reports the existing ref when the
// key is already taken. Exactly one concurrent caller wins the reservation.
func (d *Deduper) LookupOrReserve(ctx context.Context, kind Kind, key, ref string) (string, bool, error) {
	existing, reserved, err := d.store.ReserveKey(ctx, string(kind), key, ref)
	if err != nil {
		return "", false, eris.Wrapf(err, "dedup: reserve %s key", kind)
	}
	return existing, reserved, nil
}

// Release deletes a reservation so the key can be claimed again. Used when
// the work a reservation was made for fails before anything durable exists.
func (d *Deduper) Release(ctx context.Context, kind Kind, key string) error {
	if err := d.store.ReleaseKey(ctx, string(kind), key); err != nil {
		return eris.Wrapf(err, "dedup: release %s key", kind)
	}
	return nil
}
