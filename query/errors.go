package query

import (
	"fmt"

	docql "github.com/dbsqldef/docql"
)

func newErr(msg string) error {
	return docql.NewError(docql.InvalidQuery, msg, nil)
}

func newErrf(format string, args ...any) error {
	return docql.NewError(docql.InvalidQuery, fmt.Sprintf(format, args...), nil)
}

// offsetErr wraps a parse failure at a specific byte offset in the
// textual dialect's source, the same contract spec.md §6 requires of
// ParseText.
func offsetErr(src string, offset int, msg string) error {
	return docql.NewError(docql.InvalidQuery, fmt.Sprintf("%s at offset %d", msg, offset), nil)
}
