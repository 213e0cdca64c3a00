package model

import (
	"fmt"
	"time"
)

// Document represents a stored file in the system.
// This is a pure domain model with no database-specific dependencies or tags.
// It can be used across layers (HTTP, service, storage) without coupling to persistence.
type Document struct {
	ID          string   `json:"id"`
	Filename    string   `json:"filename"`
	StoragePath string   `json:"storage_path"`
	Size        int64    `json:"size"`
	ContentType string   `json:"content_type"`
	Metadata    Metadata `json:"metadata"`
}

// Metadata holds the structured attributes of a document. Fixed fields are
// typed; anything else the caller supplies lands in Extra, which is bounded
// and validated at the boundary (see MetadataUpdate.Validate).
type Metadata struct {
	Tags          []string          `json:"tags"`
	Doctor        string            `json:"doctor,omitempty"`
	DateOfService *Date             `json:"date_of_service,omitempty"`
	UploadTime    time.Time         `json:"upload_time"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// DefaultMetadata returns the metadata assigned to uploads that carry none.
func DefaultMetadata(now time.Time) Metadata {
	return Metadata{
		Tags:       []string{"unsorted"},
		UploadTime: now.UTC(),
	}
}

// Date is a calendar day without a time component, wire format "2006-01-02".
type Date struct {
	time.Time
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	return d.Format(time.DateOnly)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(time.DateOnly) + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("invalid date literal %s", b)
	}
	parsed, err := ParseDate(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Bounds for the schemaless extension map.
const (
	MaxExtraFields   = 32
	MaxExtraKeyLen   = 64
	MaxExtraValueLen = 1024
	MaxTags          = 32
)

// MetadataUpdate is a partial metadata change. Nil fields are left untouched;
// set fields overwrite, and Extra keys are merged into the existing map.
// UploadTime is deliberately absent: it is set once at creation.
type MetadataUpdate struct {
	Tags          []string          `json:"tags,omitempty"`
	Doctor        *string           `json:"doctor,omitempty"`
	DateOfService *Date             `json:"date_of_service,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// IsZero reports whether the update carries no changes at all.
func (u MetadataUpdate) IsZero() bool {
	return u.Tags == nil && u.Doctor == nil && u.DateOfService == nil && len(u.Extra) == 0
}

// Validate enforces the extension-map bounds and rejects empty tag values.
func (u MetadataUpdate) Validate() error {
	if len(u.Tags) > MaxTags {
		return fmt.Errorf("too many tags: %d (max %d)", len(u.Tags), MaxTags)
	}
	for _, tag := range u.Tags {
		if tag == "" {
			return fmt.Errorf("empty tag")
		}
	}
	if len(u.Extra) > MaxExtraFields {
		return fmt.Errorf("too many extra fields: %d (max %d)", len(u.Extra), MaxExtraFields)
	}
	for k, v := range u.Extra {
		if k == "" {
			return fmt.Errorf("empty extra field name")
		}
		if len(k) > MaxExtraKeyLen {
			return fmt.Errorf("extra field name %q too long (max %d)", k, MaxExtraKeyLen)
		}
		if len(v) > MaxExtraValueLen {
			return fmt.Errorf("extra field %q value too long (max %d)", k, MaxExtraValueLen)
		}
	}
	return nil
}

// Apply merges the update into m, field by field. The SQL implementation
// performs the same merge in a single UPDATE statement; this is the in-memory
// equivalent used by tests and callers that already hold the record.
func (u MetadataUpdate) Apply(m *Metadata) {
	if u.Tags != nil {
		m.Tags = u.Tags
	}
	if u.Doctor != nil {
		m.Doctor = *u.Doctor
	}
	if u.DateOfService != nil {
		m.DateOfService = u.DateOfService
	}
	if len(u.Extra) > 0 {
		if m.Extra == nil {
			m.Extra = make(map[string]string, len(u.Extra))
		}
		for k, v := range u.Extra {
			m.Extra[k] = v
		}
	}
}
