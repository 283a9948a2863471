package formats

import (
	"errors"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/Faultbox/mdlkit/pkg/math"
)

func makeTestSkeleton(version int) *BoneTable {
	t := &BoneTable{
		Version: version,
		Bones: []BoneRecord{
			{Parent: BoneNone, Position: [4]float32{0, 1, 0, 0}, Rotation: [4]float32{0, 0, 0, 1}, Scale: [4]float32{1, 1, 1, 0}, Transform: math.Identity()},
			{Parent: 0, Flags: 2, Position: [4]float32{0, 2, 0, 0}, Rotation: [4]float32{0, 0, 0, 1}, Scale: [4]float32{1, 1, 1, 0}, Transform: math.Translate(0, 2, 0)},
			{Parent: 1, Position: [4]float32{1, 0, 0, 0}, Rotation: [4]float32{0, 0, 0, 1}, Scale: [4]float32{2, 2, 2, 0}, Transform: math.Identity()},
			{Parent: 0, Rotation: [4]float32{0, 0, 0, 1}, Scale: [4]float32{1, 1, 1, 0}, Transform: math.Identity()},
		},
		ExternalIDs: []int32{BoneNone, 2, BoneNone, 0},
	}
	if version >= SkeletonVersionNames {
		t.Names = []string{"Root", "Spine", "Head_L", ""}
	}
	return t
}

func TestBoneTable_RoundTrip(t *testing.T) {
	for _, version := range []int{SkeletonVersionBase, SkeletonVersionNames} {
		want := makeTestSkeleton(version)
		data, err := want.Bytes()
		if err != nil {
			t.Fatalf("version %d Bytes: %v", version, err)
		}
		got, err := ParseBoneTable(data, version)
		if err != nil {
			t.Fatalf("version %d Parse: %v", version, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("version %d mismatch\ngot:  %s\nwant: %s", version, spew.Sdump(got), spew.Sdump(want))
		}
	}
}

func TestBoneTable_NamesPresentButEmpty(t *testing.T) {
	want := &BoneTable{Version: SkeletonVersionNames, Names: []string{}}
	data, err := want.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseBoneTable(data, SkeletonVersionNames)
	if err != nil {
		t.Fatal(err)
	}
	if got.Names == nil {
		t.Error("empty name list became absent")
	}
}

func TestBoneTable_Versions(t *testing.T) {
	if _, err := ParseBoneTable(nil, 3); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("version 3: got %v, want ErrUnsupportedVersion", err)
	}
	names := makeTestSkeleton(SkeletonVersionNames)
	names.Version = SkeletonVersionBase
	if _, err := names.Bytes(); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("names at version 1: got %v, want ErrUnsupportedVersion", err)
	}
}

func TestBoneTable_Truncated(t *testing.T) {
	data, err := makeTestSkeleton(SkeletonVersionNames).Bytes()
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []int{0, 3, 20, len(data) - 1} {
		if _, err := ParseBoneTable(data[:n], SkeletonVersionNames); !errors.Is(err, ErrMalformedContainer) {
			t.Errorf("truncated to %d: got %v, want ErrMalformedContainer", n, err)
		}
	}
}

func TestBoneTable_Names(t *testing.T) {
	tbl := makeTestSkeleton(SkeletonVersionNames)
	tests := []struct {
		name string
		want int
	}{
		{"root", 0},
		{"SPINE", 1},
		{"head_l", 2},
		{"UnnamedBone#3", 3},
		{"unnamedbone#3", 3},
		{"Missing", -1},
		{"UnnamedBone#0", -1},
	}
	for _, tt := range tests {
		if got := tbl.FindBone(tt.name); got != tt.want {
			t.Errorf("FindBone(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}

	base := makeTestSkeleton(SkeletonVersionBase)
	if got := base.BoneName(1); got != "UnnamedBone#1" {
		t.Errorf("BoneName(1) without names = %q", got)
	}
}

func TestBoneTable_ExternalIDs(t *testing.T) {
	tbl := makeTestSkeleton(SkeletonVersionBase)
	if b, ok := tbl.BoneByExternalID(1); !ok || b != 2 {
		t.Errorf("BoneByExternalID(1) = %d, %v", b, ok)
	}
	for _, id := range []int{-1, 0, 2, 4} {
		if _, ok := tbl.BoneByExternalID(id); ok {
			t.Errorf("BoneByExternalID(%d) resolved", id)
		}
	}
	if id, ok := tbl.ExternalID(0); !ok || id != 3 {
		t.Errorf("ExternalID(0) = %d, %v", id, ok)
	}
}

func TestBoneTable_ChildrenAndValidate(t *testing.T) {
	tbl := makeTestSkeleton(SkeletonVersionBase)
	if got := tbl.Children(0); !reflect.DeepEqual(got, []int{1, 3}) {
		t.Errorf("Children(0) = %v", got)
	}
	if got := tbl.Children(2); got != nil {
		t.Errorf("Children(2) = %v", got)
	}
	if err := tbl.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	tbl.Bones[2].Parent = 4
	if err := tbl.Validate(); !errors.Is(err, ErrRange) {
		t.Errorf("bad parent: got %v, want ErrRange", err)
	}
	tbl.Bones[2].Parent = 1
	tbl.ExternalIDs[0] = 9
	if err := tbl.Validate(); !errors.Is(err, ErrRange) {
		t.Errorf("bad external id: got %v, want ErrRange", err)
	}
}

func TestBoneTable_Clone(t *testing.T) {
	tbl := makeTestSkeleton(SkeletonVersionNames)
	c := tbl.Clone()
	c.Bones[0].Scale[0] = 3
	c.Names[0] = "Other"
	if tbl.Bones[0].Scale[0] == 3 || tbl.Names[0] == "Other" {
		t.Error("clone shares memory with original")
	}
}
