package query

import (
	"fmt"
	"strings"
)

// ValidationError reports that the request was missing or carried unusable
// search parameters.
type ValidationError struct {
	MissingParams []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing or invalid search params: %s", strings.Join(e.MissingParams, ", "))
}

// MemberSearchError reports that no query in the registry matched a member.
type MemberSearchError struct {
	OrganizationID int64
}

func (e *MemberSearchError) Error() string {
	return "no member matched the search params"
}

// InactiveOrganizationError reports that the matched member belongs to an
// organization that is not currently active.
type InactiveOrganizationError struct {
	OrganizationID int64
}

func (e *InactiveOrganizationError) Error() string {
	return fmt.Sprintf("organization %d is not active", e.OrganizationID)
}

// MatchMultipleError reports that candidates spanned multiple organizations
// when the request required exactly one.
type MatchMultipleError struct {
	OrganizationIDs []int64
}

func (e *MatchMultipleError) Error() string {
	return fmt.Sprintf("matched members across %d organizations", len(e.OrganizationIDs))
}

// UnsupportedReturnTypeError reports a return mode the registry's queries
// cannot satisfy.
type UnsupportedReturnTypeError struct {
	QueryName string
}

func (e *UnsupportedReturnTypeError) Error() string {
	return fmt.Sprintf("query %s cannot satisfy the requested return type", e.QueryName)
}
