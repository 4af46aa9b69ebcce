package btf_test

import (
	"testing"

	"github.com/skbtrace/skbtrace/internal/btf"
)

func TestResolveByName(t *testing.T) {
	s := &btf.Struct{Name: "sk_buff", SizeBits: 64, Members: []btf.Member{
		{Name: "mark", BitOffset: 0, Type: &btf.Int{Name: "unsigned int", SizeBits: 32}},
	}}
	db := btf.NewDB(s)

	got, err := db.ResolveByName("sk_buff")
	if err != nil {
		t.Fatalf("ResolveByName: %v", err)
	}
	if len(got) != 1 || got[0] != btf.Type(s) {
		t.Fatalf("ResolveByName returned %v, want [s]", got)
	}

	if _, err := db.ResolveByName("does_not_exist"); err == nil {
		t.Fatal("ResolveByName: expected error for unknown name")
	}
}

func TestMembersThroughQualifiers(t *testing.T) {
	inner := &btf.Struct{Name: "inner", Members: []btf.Member{
		{Name: "x", Type: &btf.Int{Name: "int", SizeBits: 32, Signed: true}},
	}}
	wrapped := &btf.Const{Target: &btf.Typedef{Name: "inner_t", Target: inner}}

	db := btf.NewDB(inner)
	members, err := db.Members(wrapped)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != 1 || members[0].Name != "x" {
		t.Fatalf("Members = %+v, want [x]", members)
	}
}

func TestMembersRejectsNonAggregate(t *testing.T) {
	db := btf.NewDB()
	if _, err := db.Members(&btf.Int{Name: "int", SizeBits: 32}); err == nil {
		t.Fatal("Members on a plain int: expected error")
	}
}
