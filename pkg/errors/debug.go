package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Diagnostics is what the API logs for a failed request. The postgres
// fields are filled from whichever driver produced the error: pgx for the
// gorm pool, lib/pq for goose migrations.
type Diagnostics struct {
	Code  Code
	Chain []string

	PGCode       string
	PGConstraint string
	PGTable      string
	PGDetail     string
}

func Diagnose(err error) Diagnostics {
	if err == nil {
		return Diagnostics{}
	}
	d := Diagnostics{Code: As(err).Code()}
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T", e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case stdErrors.As(err, &pgxErr):
		d.PGCode, d.PGConstraint, d.PGTable, d.PGDetail = pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName, pgxErr.Detail
	case stdErrors.As(err, &pqErr):
		d.PGCode, d.PGConstraint, d.PGTable, d.PGDetail = string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Detail
	}
	return d
}

// Fields renders d as log fields, leaving out empty postgres diagnostics.
func (d Diagnostics) Fields() map[string]any {
	fields := map[string]any{
		"error_code":  string(d.Code),
		"error_chain": d.Chain,
	}
	for k, v := range map[string]string{
		"pg_code":       d.PGCode,
		"pg_constraint": d.PGConstraint,
		"pg_table":      d.PGTable,
		"pg_detail":     d.PGDetail,
	} {
		if v != "" {
			fields[k] = v
		}
	}
	return fields
}
