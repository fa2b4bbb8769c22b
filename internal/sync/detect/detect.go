// Package detect implements the change-detection policy that turns a
// table name, a watermark column, and the prior watermark value into the
// parameterised extraction query the coordinator runs against the source
// database.
package detect

import (
	"fmt"
	"regexp"

	"github.com/icereplica/coreflow/pkg/errors"
)

var codeInvalidIdentifier = errors.SyncCode("invalid_identifier")

// identifierPattern accepts the closed set of characters this module
// tolerates in a bare (unquoted) SQL identifier: letters, digits, and
// underscore, not starting with a digit. Anything else (spaces,
// semicolons, quotes, comment markers) is rejected outright rather than
// passed through to string concatenation, closing the query-injection
// path. Quoting a dialect-specific identifier is the caller's job;
// this package never emits quote characters itself.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier rejects any table or column name containing characters
// outside the accepted identifier character set.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return errors.New(codeInvalidIdentifier,
			fmt.Sprintf("identifier %q contains characters outside the accepted set", name), nil).
			AddContext("identifier", name)
	}
	return nil
}

// Query is the extraction query the coordinator hands to the source
// session: SQL text plus the positional/named parameters to bind.
type Query struct {
	SQL    string
	Params []any
}

// Detector builds the parameterised change-extraction query for one table,
// keyed off a single watermark column. It holds no state of its own;
// BuildQuery is a pure function of its inputs.
type Detector struct {
	watermarkColumn string
}

// New creates a Detector filtering on watermarkColumn. The column name is
// validated eagerly so a bad configuration fails at setup, not mid-run; the
// table name is validated by each BuildQuery call.
func New(watermarkColumn string) (*Detector, error) {
	if err := ValidateIdentifier(watermarkColumn); err != nil {
		return nil, err
	}
	return &Detector{watermarkColumn: watermarkColumn}, nil
}

// BuildQuery returns the extraction query for tableName given the prior
// watermark value. A nil lastWatermark means no watermark exists yet and
// the full table is selected; otherwise rows are filtered to those whose
// watermark column exceeds the prior value.
func (d *Detector) BuildQuery(tableName string, lastWatermark any) (Query, error) {
	if err := ValidateIdentifier(tableName); err != nil {
		return Query{}, err
	}
	if lastWatermark == nil {
		return Query{SQL: fmt.Sprintf("SELECT * FROM %s", tableName)}, nil
	}
	return Query{
		SQL:    fmt.Sprintf("SELECT * FROM %s WHERE %s > ?", tableName, d.watermarkColumn),
		Params: []any{lastWatermark},
	}, nil
}
