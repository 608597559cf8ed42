package gateway

import (
	"reflect"

	"github.com/sqlcore/polydb/schema"
)

// bindValueOf returns the parameter value to bind for col, applying JSON
// serialization for db:"json" columns (spec.md §4.9 "JSON columns:
// serialized on write").
func bindValueOf(v reflect.Value, col *schema.ColumnInfo) (any, error) {
	fv := fieldFor(v, col)
	if col.IsJSON {
		text, err := schema.MarshalJSONColumn(fv.Interface())
		if err != nil {
			return nil, err
		}
		return text, nil
	}
	return fv.Interface(), nil
}

// scanValueInto writes a driver-returned column value back into entity's
// field, applying JSON deserialization for db:"json" columns.
func scanValueInto(v reflect.Value, col *schema.ColumnInfo, raw any) error {
	fv := fieldFor(v, col)
	if col.IsJSON {
		text, ok := raw.(string)
		if !ok {
			if b, ok := raw.([]byte); ok {
				text = string(b)
			}
		}
		return schema.UnmarshalJSONColumn(text, fv.Addr().Interface())
	}
	return assignCoerced(fv, raw)
}

// assignCoerced assigns raw into fv, converting between the driver's
// returned Go type and fv's declared type when they merely differ in kind
// (e.g. int64 from driver into an int32 field), matching database/sql's
// own permissive Scan conversions.
func assignCoerced(fv reflect.Value, raw any) error {
	if raw == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	rv := reflect.ValueOf(raw)
	if rv.Type().AssignableTo(fv.Type()) {
		fv.Set(rv)
		return nil
	}
	if rv.Type().ConvertibleTo(fv.Type()) {
		fv.Set(rv.Convert(fv.Type()))
		return nil
	}
	return &FieldCoercionError{FromType: rv.Type().String(), ToType: fv.Type().String()}
}

// idValue extracts the id column's value as RowID.
func idValue[RowID comparable](v reflect.Value, info *schema.TableInfo) RowID {
	var zero RowID
	if info.ID == nil {
		return zero
	}
	fv := fieldFor(v, info.ID)
	out, ok := fv.Interface().(RowID)
	if !ok {
		return zero
	}
	return out
}

// setIDValue writes id into entity's id column field, converting if
// needed (e.g. RowID is int64 but the id column field is int32).
func setIDValue[RowID comparable](v reflect.Value, info *schema.TableInfo, id RowID) error {
	if info.ID == nil {
		return nil
	}
	fv := fieldFor(v, info.ID)
	return assignCoerced(fv, id)
}

// isZero reports whether id is the zero value for RowID.
func isZero[RowID comparable](id RowID) bool {
	var zero RowID
	return id == zero
}
