package model

import "testing"

func TestDirectIDOrderIndependent(t *testing.T) {
	a, b := NewID(), NewID()
	if DirectID(a, b) != DirectID(b, a) {
		t.Fatalf("DirectID(a,b)=%q differs from DirectID(b,a)=%q", DirectID(a, b), DirectID(b, a))
	}
	if len(DirectID(a, b)) != 2*IDLength {
		t.Fatalf("unexpected token length %d", len(DirectID(a, b)))
	}
}

func TestCounterpart(t *testing.T) {
	a, b := NewID(), NewID()
	token := DirectID(a, b)

	tests := []struct {
		name   string
		token  string
		self   string
		want   string
		wantOK bool
	}{
		{"self first or second", token, a, b, true},
		{"other side", token, b, a, true},
		{"stranger", token, NewID(), "", false},
		{"short token", a, a, "", false},
		{"self talk", a + a, a, a, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Counterpart(tt.token, tt.self)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Counterpart() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestIsDirect(t *testing.T) {
	a, b := NewID(), NewID()
	if !IsDirect(DirectID(a, b)) {
		t.Error("expected pair token to be direct")
	}
	if IsDirect(a) {
		t.Error("single id is not a direct token")
	}
	if IsDirect(a + "x" + b[1:]) {
		t.Error("malformed second half accepted")
	}
}

func TestRoleRank(t *testing.T) {
	if !(RoleOwner.Rank() > RoleAdmin.Rank() && RoleAdmin.Rank() > RoleMember.Rank()) {
		t.Fatal("role ranks out of order")
	}
	if Role("guest").Valid() {
		t.Error("unknown role reported valid")
	}
}
