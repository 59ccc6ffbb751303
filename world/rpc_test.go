package world

import (
	"errors"
	"testing"
)

func TestPermissionSetHasGrantRevoke(t *testing.T) {
	var s PermissionSet
	if s.Has(PermAddAgent) {
		t.Fatal("zero value PermissionSet should deny everything")
	}
	s = s.Grant(PermAddAgent)
	if !s.Has(PermAddAgent) {
		t.Fatal("Grant should add the permission")
	}
	if s.Has(PermRemoveAgent) {
		t.Fatal("Grant should not affect unrelated permissions")
	}
	s = s.Revoke(PermAddAgent)
	if s.Has(PermAddAgent) {
		t.Fatal("Revoke should remove the permission")
	}
}

func TestPermissionSetCheck(t *testing.T) {
	var s PermissionSet
	if err := s.Check(PermGetMap); !errors.Is(err, ErrPermission) {
		t.Fatalf("Check on a denied permission should return ErrPermission, got %v", err)
	}
	s = s.Grant(PermGetMap)
	if err := s.Check(PermGetMap); err != nil {
		t.Fatalf("Check on a granted permission should return nil, got %v", err)
	}
}

func TestAllPermissionsGrantsEveryBit(t *testing.T) {
	all := []Permission{
		PermAddAgent, PermRemoveAgent, PermRemoveClient, PermSetActive,
		PermGetMap, PermGetAgentIDs, PermGetAgentStates, PermManageSemaphores, PermGetSemaphores,
	}
	for _, p := range all {
		if !AllPermissions.Has(p) {
			t.Fatalf("AllPermissions should grant bit %d", p)
		}
	}
}
