// Package tablecommon holds identity types shared by the table service.
package tablecommon

import (
	"github.com/floorbook/floorbook/internal/common"
)

// TenantId identifies the isolation root every row belongs to.
type TenantId string

// UserId identifies a principal. Users are managed outside the engine; the
// engine only stores their ids in shares, table creators and user cells.
type UserId string

// Actor is the already-resolved caller of an engine operation.
type Actor struct {
	TenantID TenantId
	UserID   UserId
}

// IsValid reports whether both ids are present.
func (a Actor) IsValid() bool {
	return a.TenantID != "" && a.UserID != ""
}

// NewTenantId generates a fresh tenant id ("T" + airline code).
func NewTenantId() (TenantId, error) {
	id, err := common.GetUniqueId(common.ID_TYPE_TENANT)
	return TenantId(id), err
}

// NewUserId generates a fresh user id ("U" + airline code). User ids come
// from the identity system in production; this is for bootstrap and tests.
func NewUserId() (UserId, error) {
	id, err := common.GetUniqueId(common.ID_TYPE_USER)
	return UserId(id), err
}

// UserIdStrings converts user ids for use as SQL array parameters.
func UserIdStrings(ids []UserId) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
