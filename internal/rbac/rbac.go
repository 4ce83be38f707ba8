// Package rbac decides what a caller may do. Anonymous callers can look at
// the rule collection; signed-in callers can change it and upload proofs.
package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionUpload Action = "upload"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleEditor:
		return action == ActionRead || action == ActionWrite || action == ActionUpload
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// RoleFor maps the authentication predicate onto a role.
func RoleFor(authenticated bool) Role {
	if authenticated {
		return RoleEditor
	}
	return RoleViewer
}
