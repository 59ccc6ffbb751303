package world

// Permission is one bit of the per-client permission set gating the RPC
// surface. A denied call returns ErrPermission without mutating state.
type Permission uint16

const (
	PermAddAgent Permission = 1 << iota
	PermRemoveAgent
	PermRemoveClient
	PermSetActive
	PermGetMap
	PermGetAgentIDs
	PermGetAgentStates
	PermManageSemaphores
	PermGetSemaphores
)

// PermissionSet is the server-controlled bitset of calls a single client is
// allowed to make. The zero value denies everything.
type PermissionSet Permission

// AllPermissions grants every call in Permission, the default for a
// trusted/local client (e.g. the admin console).
const AllPermissions PermissionSet = PermissionSet(PermAddAgent | PermRemoveAgent | PermRemoveClient |
	PermSetActive | PermGetMap | PermGetAgentIDs | PermGetAgentStates | PermManageSemaphores | PermGetSemaphores)

// Has reports whether p is granted in s.
func (s PermissionSet) Has(p Permission) bool { return Permission(s)&p != 0 }

// Grant returns a copy of s with p added.
func (s PermissionSet) Grant(p Permission) PermissionSet { return PermissionSet(Permission(s) | p) }

// Revoke returns a copy of s with p removed.
func (s PermissionSet) Revoke(p Permission) PermissionSet { return PermissionSet(Permission(s) &^ p) }

// Check returns ErrPermission if p is not granted in s, nil otherwise. RPC
// transports (e.g. netrpc) call this before dispatching a method to the
// Simulator so that a denied call never mutates state.
func (s PermissionSet) Check(p Permission) error {
	if !s.Has(p) {
		return ErrPermission
	}
	return nil
}
