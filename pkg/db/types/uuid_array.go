package dbtypes

import (
	"database/sql/driver"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// UUIDArray is a postgres uuid[]. Other dialects keep the same array literal
// in a text column, so one model serves both.
type UUIDArray []uuid.UUID

func (UUIDArray) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "uuid[]"
	}
	return "text"
}

func (a UUIDArray) Contains(id uuid.UUID) bool {
	return slices.Contains(a, id)
}

func (a UUIDArray) Value() (driver.Value, error) {
	ids := lo.Map(a, func(id uuid.UUID, _ int) string { return id.String() })
	return "{" + strings.Join(ids, ",") + "}", nil
}

func (a *UUIDArray) Scan(src any) error {
	var literal string
	switch v := src.(type) {
	case nil:
		*a = UUIDArray{}
		return nil
	case string:
		literal = v
	case []byte:
		literal = string(v)
	default:
		return fmt.Errorf("UUIDArray: unsupported Scan type %T", src)
	}

	trimmed := strings.TrimSpace(literal)
	if len(trimmed) < 2 || trimmed[0] != '{' || trimmed[len(trimmed)-1] != '}' {
		return fmt.Errorf("UUIDArray: %q is not an array literal", literal)
	}
	elems := strings.FieldsFunc(trimmed[1:len(trimmed)-1], func(r rune) bool { return r == ',' })
	out := make(UUIDArray, 0, len(elems))
	for _, elem := range elems {
		id, err := uuid.Parse(strings.Trim(strings.TrimSpace(elem), `"`))
		if err != nil {
			return fmt.Errorf("UUIDArray: parse %q: %w", elem, err)
		}
		out = append(out, id)
	}
	*a = out
	return nil
}
