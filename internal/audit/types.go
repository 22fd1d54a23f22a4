// Package audit implements the append-only audit trail: entry recording,
// filtered queries, per-action aggregation, and retention cleanup.
package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Action is the closed set of auditable operations.
type Action string

const (
	ActionLogin             Action = "login"
	ActionLogout            Action = "logout"
	ActionDocumentUpload    Action = "document_upload"
	ActionDocumentDownload  Action = "document_download"
	ActionDocumentView      Action = "document_view"
	ActionDocumentEdit      Action = "document_edit"
	ActionDocumentDelete    Action = "document_delete"
	ActionDocumentShare     Action = "document_share"
	ActionDocumentUnshare   Action = "document_unshare"
	ActionAccessRulesUpdate Action = "access_rules_update"
	ActionFolderCreate      Action = "folder_create"
	ActionFolderEdit        Action = "folder_edit"
	ActionFolderDelete      Action = "folder_delete"
	ActionLinkCreate        Action = "link_create"
	ActionLinkAccess        Action = "link_access"
	ActionLinkRevoke        Action = "link_revoke"
)

// ResourceType classifies the audited resource.
type ResourceType string

const (
	ResourceDocument   ResourceType = "document"
	ResourceFolder     ResourceType = "folder"
	ResourceUser       ResourceType = "user"
	ResourceSystem     ResourceType = "system"
	ResourceSharedLink ResourceType = "shared_link"
)

// Status is the audited outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Entry is a single immutable audit record. Entries are created by whichever
// component performs a sensitive operation and owned by the audit trail
// afterwards; retention cleanup is the only deletion path.
type Entry struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Action       Action
	ResourceType ResourceType
	ResourceID   uuid.NullUUID
	Status       Status
	Details      Details
	IPAddress    string
	UserAgent    string
	CreatedAt    time.Time
}

// Filter narrows audit queries. Zero values mean "any".
type Filter struct {
	From         time.Time
	To           time.Time
	Action       Action
	ResourceType ResourceType
	ResourceID   uuid.NullUUID
	UserID       uuid.NullUUID
	Status       Status
	Limit        int
}

// ActionStats aggregates outcomes for one action.
type ActionStats struct {
	Action  Action
	Total   int64
	Success int64
	Failure int64
}

// Kind discriminates detail values.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindList
	KindMap
)

// Detail is a structured audit payload value: a tagged union of primitives,
// lists, and maps. It marshals to natural JSON so stored details stay
// queryable without reintroducing untyped blobs.
type Detail struct {
	Kind  Kind
	Str   string
	Int   int64
	Float float64
	Bool  bool
	List  []Detail
	Map   map[string]Detail
}

// Details is the top-level detail payload of an entry.
type Details map[string]Detail

// S wraps a string detail value.
func S(v string) Detail { return Detail{Kind: KindString, Str: v} }

// I wraps an integer detail value.
func I(v int64) Detail { return Detail{Kind: KindInt, Int: v} }

// F wraps a float detail value.
func F(v float64) Detail { return Detail{Kind: KindFloat, Float: v} }

// B wraps a boolean detail value.
func B(v bool) Detail { return Detail{Kind: KindBool, Bool: v} }

// L wraps a list detail value.
func L(vs ...Detail) Detail { return Detail{Kind: KindList, List: vs} }

// M wraps a map detail value.
func M(m map[string]Detail) Detail { return Detail{Kind: KindMap, Map: m} }

// MarshalJSON renders the union as its natural JSON form.
func (d Detail) MarshalJSON() ([]byte, error) {
	switch d.Kind {
	case KindString:
		return json.Marshal(d.Str)
	case KindInt:
		return json.Marshal(d.Int)
	case KindFloat:
		return json.Marshal(d.Float)
	case KindBool:
		return json.Marshal(d.Bool)
	case KindList:
		if d.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(d.List)
	case KindMap:
		if d.Map == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(d.Map)
	default:
		return nil, fmt.Errorf("unknown detail kind %d", d.Kind)
	}
}

// UnmarshalJSON rebuilds the union from JSON. Numbers without a fractional
// part become integers.
func (d *Detail) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	got, err := fromAny(v)
	if err != nil {
		return err
	}
	*d = got
	return nil
}

func fromAny(v any) (Detail, error) {
	switch t := v.(type) {
	case string:
		return S(t), nil
	case bool:
		return B(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return I(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Detail{}, err
		}
		return F(f), nil
	case []any:
		list := make([]Detail, 0, len(t))
		for _, e := range t {
			d, err := fromAny(e)
			if err != nil {
				return Detail{}, err
			}
			list = append(list, d)
		}
		return Detail{Kind: KindList, List: list}, nil
	case map[string]any:
		m := make(map[string]Detail, len(t))
		for k, e := range t {
			d, err := fromAny(e)
			if err != nil {
				return Detail{}, err
			}
			m[k] = d
		}
		return Detail{Kind: KindMap, Map: m}, nil
	case nil:
		return S(""), nil
	default:
		return Detail{}, fmt.Errorf("unsupported detail value %T", v)
	}
}
