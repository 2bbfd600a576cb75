package cohort

import (
	"errors"

	"github.com/malbeclabs/rwe/pkg/tablestore"
)

var (
	// ErrUnknownTable is returned when neither the name nor its alias is
	// registered. It matches tablestore.ErrUnknownTable.
	ErrUnknownTable = tablestore.ErrUnknownTable

	ErrFeatureNotComputable = errors.New("feature not computable")
)
