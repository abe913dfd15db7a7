package services

import (
	"fmt"
	"strings"
)

// AccessControl decides whether a caller may act on another user's orders.
type AccessControl interface {
	CheckAccess(caller Caller, targetUserID string) error
	IsAdmin(caller Caller) bool
}

// RoleAccessControl allows callers to act on their own orders and administrators on any order.
type RoleAccessControl struct{}

// CheckAccess fails with ErrAccessDenied unless the caller owns targetUserID or is an admin.
func (RoleAccessControl) CheckAccess(caller Caller, targetUserID string) error {
	if caller.Admin {
		return nil
	}
	uid := strings.TrimSpace(caller.UserID)
	if uid == "" {
		return fmt.Errorf("%w: anonymous caller", ErrAccessDenied)
	}
	if uid != strings.TrimSpace(targetUserID) {
		return fmt.Errorf("%w: caller %s cannot access user %s", ErrAccessDenied, uid, targetUserID)
	}
	return nil
}

// IsAdmin reports the caller's admin flag.
func (RoleAccessControl) IsAdmin(caller Caller) bool {
	return caller.Admin
}
