package registry

import "time"

// AuthStatus is the transient outcome of the most recent
// authentication check against a repository. It is
// always timestamped and overwritten per check.
type AuthStatus string

// Authentication check states.
const (
	AuthUnknown  AuthStatus = "unknown"
	AuthChecking AuthStatus = "checking"
	AuthSuccess  AuthStatus = "success"
	AuthFailed   AuthStatus = "failed"
)

// AccessLevel is the access a role has on a repository.
type AccessLevel string

// Access levels per role.
const (
	AccessFull     AccessLevel = "full"
	AccessReadOnly AccessLevel = "read-only"
	AccessDevOnly  AccessLevel = "dev-only"
	AccessNone     AccessLevel = "none"
)

// Permissions maps team roles to their access level.
type Permissions struct {
	Developer  AccessLevel `json:"developer"`
	DevOps     AccessLevel `json:"devops"`
	Operations AccessLevel `json:"operations"`
}

// Repository is a local registry entry for a remote
// repository. It exists independently of whether the
// remote repository does.
type Repository struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	URL           string      `json:"url"`
	Branch        string      `json:"branch"`
	Description   string      `json:"description"`
	Permissions   Permissions `json:"permissions"`
	ServerID      string      `json:"serverId"`
	AuthStatus    AuthStatus  `json:"authStatus"`
	LastAuthCheck time.Time   `json:"lastAuthCheck"`
}
