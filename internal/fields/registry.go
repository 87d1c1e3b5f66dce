// Package fields provides the typed per-collection field registry used to
// translate friendly filter names into the ordering service's field ids.
// The registry is validated once at startup instead of being string-matched
// ad hoc at query time.
package fields

import (
	"fmt"
	"strings"
)

// Field maps one friendly filter name onto a remote field id.
type Field struct {
	Name     string   // name accepted on the command line
	RapiID   string   // field id understood by the remote API
	Title    string   // field title as shown in the remote UI
	DataType string   // "string", "int", "float" or "date"
	Choices  []string // allowed values, empty when unconstrained
}

// VerifyChoice returns the canonical-case choice matching val, or an error
// when the field is constrained and val matches nothing.
func (f Field) VerifyChoice(val string) (string, error) {
	if len(f.Choices) == 0 {
		return val, nil
	}
	for _, c := range f.Choices {
		if strings.EqualFold(c, val) {
			return c, nil
		}
	}
	return "", fmt.Errorf("invalid value %q for field %s (choices: %s)",
		val, f.Name, strings.Join(f.Choices, ", "))
}

// CollectionFields holds the filterable fields of one collection.
type CollectionFields struct {
	CollectionID string
	Fields       []Field
}

// Get returns the field with the given friendly name, case-insensitively.
func (cf CollectionFields) Get(name string) (Field, bool) {
	for _, f := range cf.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Field{}, false
}

// Names returns the friendly field names in declaration order.
func (cf CollectionFields) Names() []string {
	names := make([]string, 0, len(cf.Fields))
	for _, f := range cf.Fields {
		names = append(names, f.Name)
	}
	return names
}

// Registry holds the field tables for every known collection.
type Registry struct {
	collections map[string]CollectionFields
	order       []string
}

// NewRegistry builds a registry from collection tables.
func NewRegistry(collections ...CollectionFields) *Registry {
	r := &Registry{collections: make(map[string]CollectionFields, len(collections))}
	for _, cf := range collections {
		if _, ok := r.collections[cf.CollectionID]; !ok {
			r.order = append(r.order, cf.CollectionID)
		}
		r.collections[cf.CollectionID] = cf
	}
	return r
}

// Validate checks the registry for structural problems. It is called once
// at startup so later lookups can assume a well-formed table.
func (r *Registry) Validate() error {
	for _, collID := range r.order {
		cf := r.collections[collID]
		if collID == "" {
			return fmt.Errorf("registry contains a collection with an empty id")
		}
		seen := make(map[string]bool, len(cf.Fields))
		for _, f := range cf.Fields {
			name := strings.ToUpper(f.Name)
			if f.Name == "" || f.RapiID == "" {
				return fmt.Errorf("collection %s: field %q has an empty name or field id", collID, f.Name)
			}
			if seen[name] {
				return fmt.Errorf("collection %s: duplicate field name %s", collID, f.Name)
			}
			seen[name] = true
		}
	}
	return nil
}

// Collection returns the field table for a collection id.
func (r *Registry) Collection(collectionID string) (CollectionFields, bool) {
	cf, ok := r.collections[collectionID]
	return cf, ok
}

// CollectionIDs returns the known collection ids in declaration order.
func (r *Registry) CollectionIDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Resolve maps a friendly filter name to the remote field id for the given
// collection, verifying the value against the field's choices.
func (r *Registry) Resolve(collectionID, name, value string) (fieldID, canonical string, err error) {
	cf, ok := r.collections[collectionID]
	if !ok {
		return "", "", fmt.Errorf("unknown collection %q (known: %s)",
			collectionID, strings.Join(r.CollectionIDs(), ", "))
	}
	f, ok := cf.Get(name)
	if !ok {
		return "", "", fmt.Errorf("collection %s has no field %q (available: %s)",
			collectionID, name, strings.Join(cf.Names(), ", "))
	}
	canonical, err = f.VerifyChoice(value)
	if err != nil {
		return "", "", err
	}
	return f.RapiID, canonical, nil
}

// Default returns the registry of the supported satellite collections.
func Default() *Registry {
	return NewRegistry(
		CollectionFields{
			CollectionID: "RCMImageProducts",
			Fields: []Field{
				{Name: "BEAM_MNEMONIC", RapiID: "RCM.BEAM_MNEMONIC", Title: "Beam Mnemonic", DataType: "string"},
				{Name: "POLARIZATION", RapiID: "RCM.POLARIZATION", Title: "Polarization", DataType: "string",
					Choices: []string{"CH CV", "HH", "HH HV", "HH HV VH VV", "HH VV", "HV", "VH", "VH VV", "VV"}},
				{Name: "PIXEL_SPACING", RapiID: "SENSOR_BEAM.SPATIAL_RESOLUTION", Title: "Pixel Spacing (Metres)", DataType: "float"},
				{Name: "INCIDENCE_ANGLE", RapiID: "RCM.INCIDENCE_ANGLE", Title: "Incidence Angle (Decimal Degrees)", DataType: "float"},
				{Name: "LOOK_DIRECTION", RapiID: "RCM.ANTENNA_ORIENTATION", Title: "Look Direction", DataType: "string",
					Choices: []string{"Left", "Right"}},
				{Name: "ORBIT_DIRECTION", RapiID: "RCM.ORBIT_DIRECTION", Title: "Orbit Direction", DataType: "string",
					Choices: []string{"Ascending", "Descending"}},
				{Name: "ORDER_KEY", RapiID: "ARCHIVE_IMAGE.ORDER_KEY", Title: "Order Key", DataType: "string"},
			},
		},
		CollectionFields{
			CollectionID: "Radarsat2",
			Fields: []Field{
				{Name: "BEAM_MNEMONIC", RapiID: "RSAT2.BEAM_MNEMONIC", Title: "Position", DataType: "string"},
				{Name: "POLARIZATION", RapiID: "RSAT2.POLARIZATION", Title: "Polarization", DataType: "string"},
				{Name: "PIXEL_SPACING", RapiID: "SENSOR_BEAM.SPATIAL_RESOLUTION", Title: "Pixel Spacing (Metres)", DataType: "float"},
				{Name: "INCIDENCE_ANGLE", RapiID: "RSAT2.INCIDENCE_ANGLE", Title: "Incidence Angle (Decimal Degrees)", DataType: "float"},
				{Name: "LOOK_DIRECTION", RapiID: "RSAT2.ANTENNA_ORIENTATION", Title: "Look Direction", DataType: "string",
					Choices: []string{"Left", "Right"}},
				{Name: "ORBIT_DIRECTION", RapiID: "RSAT2.ORBIT_DIRECTION", Title: "Orbit Direction", DataType: "string",
					Choices: []string{"Ascending", "Descending"}},
				{Name: "IMAGE_ID", RapiID: "RSAT2.IMAGE_ID", Title: "Image Identification", DataType: "string"},
				{Name: "ORDER_KEY", RapiID: "ARCHIVE_IMAGE.ORDER_KEY", Title: "Order Key", DataType: "string"},
			},
		},
		CollectionFields{
			CollectionID: "Radarsat1",
			Fields: []Field{
				{Name: "BEAM_MNEMONIC", RapiID: "RSAT1.BEAM_MNEMONIC", Title: "Position", DataType: "string"},
				{Name: "PIXEL_SPACING", RapiID: "SENSOR_BEAM.SPATIAL_RESOLUTION", Title: "Pixel Spacing (Metres)", DataType: "float"},
				{Name: "INCIDENCE_ANGLE", RapiID: "RSAT1.INCIDENCE_ANGLE", Title: "Incidence Angle (Decimal Degrees)", DataType: "float"},
				{Name: "ORBIT_DIRECTION", RapiID: "RSAT1.ORBIT_DIRECTION", Title: "Orbit Direction", DataType: "string",
					Choices: []string{"Ascending", "Descending"}},
				{Name: "ORBIT", RapiID: "RSAT1.ORBIT_ABS", Title: "Orbit", DataType: "int"},
				{Name: "ORDER_KEY", RapiID: "ARCHIVE_IMAGE.ORDER_KEY", Title: "Order Key", DataType: "string"},
			},
		},
		CollectionFields{
			CollectionID: "NAPL",
			Fields: []Field{
				{Name: "ROLL_NUMBER", RapiID: "ROLL.ROLL_NUMBER", Title: "Roll Number", DataType: "string"},
				{Name: "PHOTO_NUMBER", RapiID: "PHOTO.PHOTO_NUMBER", Title: "Photo Number", DataType: "string"},
				{Name: "SCALE", RapiID: "FLIGHT_SEGMENT.SCALE", Title: "Scale", DataType: "int"},
				{Name: "ORDER_KEY", RapiID: "ARCHIVE_IMAGE.ORDER_KEY", Title: "Order Key", DataType: "string"},
			},
		},
		CollectionFields{
			CollectionID: "PlanetScope",
			Fields: []Field{
				{Name: "CLOUD_COVER", RapiID: "SATOPT.CLOUD_PERCENT", Title: "Maximum Cloud Cover", DataType: "int"},
				{Name: "PIXEL_SPACING", RapiID: "SENSOR_BEAM.SPATIAL_RESOLUTION", Title: "Pixel Spacing (Metres)", DataType: "float"},
				{Name: "ORDER_KEY", RapiID: "ARCHIVE_IMAGE.ORDER_KEY", Title: "Order Key", DataType: "string"},
			},
		},
	)
}
