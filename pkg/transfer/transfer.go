// Package transfer copies decoded request payloads onto store records.
package transfer

import (
	"fmt"

	"github.com/edgeflare/pgcrud/pkg/access"
	"github.com/edgeflare/pgcrud/pkg/model"
	"github.com/edgeflare/pgcrud/pkg/resource"
	"github.com/edgeflare/pgcrud/pkg/store"
)

// Mode decides how sub-objects and absent fields are treated.
type Mode int

const (
	// Create sets the fields present in the payload together with their
	// sub-objects and links. Absent fields are left to store defaults.
	Create Mode = iota
	// Sync sets every declared field, clearing absent ones, and makes
	// sub-objects and links match the payload exactly.
	Sync
	// NoSubobjects sets scalar fields only; sub-objects and links in the
	// payload are ignored.
	NoSubobjects
)

func (m Mode) String() string {
	switch m {
	case Create:
		return "CREATE"
	case Sync:
		return "SYNC"
	case NoSubobjects:
		return "NO_SUBOBJECTS"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Transfer applies payload p, decoded against s, to rec of model m. With
// excludeUnset only the keys present in p are touched. A primary key in the
// payload is applied only to records that have none yet. Sub-records inherit
// the caller's tenant.
func Transfer(s *resource.Schema, m *model.Model, p resource.Payload, rec *store.Record, mode Mode, excludeUnset bool, acc *access.Access) error {
	pk := m.PrimaryKey()
	for _, sf := range s.Fields {
		if sf.Name == model.TenantField {
			continue
		}
		f, ok := m.Field(sf.Name)
		if !ok {
			return fmt.Errorf("transfer: %s has no field %q", m.Name, sf.Name)
		}
		v, present := p[sf.Name]
		if excludeUnset && !present {
			continue
		}

		switch {
		case sf.Object != nil:
			if mode == NoSubobjects || (mode == Create && !present) {
				continue
			}
			subs, _ := v.([]resource.Payload)
			children := make([]*store.Record, 0, len(subs))
			for _, sub := range subs {
				child := store.NewRecord()
				if acc != nil && f.Related().TenantField() != nil {
					child.Set(model.TenantField, acc.TenantID)
				}
				if err := Transfer(sf.Object, f.Related(), sub, child, mode, false, acc); err != nil {
					return fmt.Errorf("transfer: %s.%s: %w", m.Name, sf.Name, err)
				}
				children = append(children, child)
			}
			rec.SetRelated(sf.Name, children)

		case sf.List && f.Relation == model.RelationManyToMany:
			if mode == NoSubobjects || (mode == Create && !present) {
				continue
			}
			keys, _ := v.([]any)
			if keys == nil {
				keys = []any{}
			}
			rec.SetLinks(sf.Name, keys)

		case f == pk:
			if present && v != nil && rec.Get(pk.Name) == nil {
				rec.Set(pk.Name, v)
			}

		default:
			if !present && mode == Create {
				continue
			}
			rec.Set(sf.Name, v)
		}
	}
	return nil
}
