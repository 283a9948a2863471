package formats

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/Faultbox/mdlkit/pkg/math"
)

// BoneNone marks a root bone's parent and an unmapped external-id slot.
const BoneNone = -1

// Skeleton chunk versions.
const (
	SkeletonVersionBase  = 1 // records + external-id table
	SkeletonVersionNames = 2 // adds the optional bone name list
)

// boneRecordSize is parent, flags, three 4-wide channels and the stored
// transform.
const boneRecordSize = 4 + 4 + 3*16 + 64

// BoneRecord is one bone of a skeleton. Position, Rotation and Scale are the
// separately stored channels; Transform is the stored transform that the
// fixup pass re-bakes from them.
type BoneRecord struct {
	Parent    int32      // Parent bone index, BoneNone for roots
	Flags     uint32     // Opaque flags
	Position  [4]float32 // Local position (w unused)
	Rotation  [4]float32 // Local rotation quaternion x, y, z, w
	Scale     [4]float32 // Local scale (w unused)
	Transform math.Mat4  // Stored transform
}

// BoneTable is the bone hierarchy shared by the model and its sibling
// formats.
type BoneTable struct {
	Version     int          // Short chunk version
	Bones       []BoneRecord // Ordered bone records
	ExternalIDs []int32      // External id -> bone index, BoneNone if unmapped
	Names       []string     // Optional names parallel to Bones (nil if absent)
}

// BoneCount returns the number of bones.
func (t *BoneTable) BoneCount() int {
	return len(t.Bones)
}

// BoneName returns the stored name or the synthesized UnnamedBone#<index>.
func (t *BoneTable) BoneName(i int) string {
	if i >= 0 && i < len(t.Names) && t.Names[i] != "" {
		return t.Names[i]
	}
	return fmt.Sprintf("UnnamedBone#%d", i)
}

// FindBone returns the bone whose name matches case-insensitively, or -1.
// Synthesized names match too.
func (t *BoneTable) FindBone(name string) int {
	for i := range t.Bones {
		if strings.EqualFold(t.BoneName(i), name) {
			return i
		}
	}
	return -1
}

// BoneByExternalID maps an external id to a local bone.
func (t *BoneTable) BoneByExternalID(id int) (int, bool) {
	if id < 0 || id >= len(t.ExternalIDs) {
		return 0, false
	}
	b := int(t.ExternalIDs[id])
	if b == BoneNone || b < 0 || b >= len(t.Bones) {
		return 0, false
	}
	return b, true
}

// ExternalID returns the first external id mapped to bone.
func (t *BoneTable) ExternalID(bone int) (int, bool) {
	for id, b := range t.ExternalIDs {
		if int(b) == bone {
			return id, true
		}
	}
	return 0, false
}

// Children returns the bones whose parent is i, in bone order.
func (t *BoneTable) Children(i int) []int {
	var out []int
	for j := range t.Bones {
		if int(t.Bones[j].Parent) == i {
			out = append(out, j)
		}
	}
	return out
}

// Validate checks that every parent index is BoneNone or below the bone
// count. Parent cycles are not detected.
func (t *BoneTable) Validate() error {
	for i, b := range t.Bones {
		if b.Parent != BoneNone && (b.Parent < 0 || int(b.Parent) >= len(t.Bones)) {
			return errors.Wrapf(ErrRange, "bone %d parent %d (bone count %d)", i, b.Parent, len(t.Bones))
		}
	}
	for id, b := range t.ExternalIDs {
		if b != BoneNone && (b < 0 || int(b) >= len(t.Bones)) {
			return errors.Wrapf(ErrRange, "external id %d maps to bone %d (bone count %d)", id, b, len(t.Bones))
		}
	}
	return nil
}

// Clone returns a deep copy.
func (t *BoneTable) Clone() *BoneTable {
	c := &BoneTable{Version: t.Version}
	if t.Bones != nil {
		c.Bones = append(make([]BoneRecord, 0, len(t.Bones)), t.Bones...)
	}
	if t.ExternalIDs != nil {
		c.ExternalIDs = append(make([]int32, 0, len(t.ExternalIDs)), t.ExternalIDs...)
	}
	if t.Names != nil {
		c.Names = append(make([]string, 0, len(t.Names)), t.Names...)
	}
	return c
}

// ParseBoneTable parses a skeleton chunk payload.
func ParseBoneTable(payload []byte, version int) (*BoneTable, error) {
	if version != SkeletonVersionBase && version != SkeletonVersionNames {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "skeleton version %d", version)
	}

	r := newReader(payload)
	t := &BoneTable{Version: version}

	n := r.count(boneRecordSize, "bone")
	t.Bones = makeList[BoneRecord](n)
	for i := 0; i < n && r.err == nil; i++ {
		b := &t.Bones[i]
		b.Parent = r.i32()
		b.Flags = r.u32()
		r.f32s(b.Position[:])
		r.f32s(b.Rotation[:])
		r.f32s(b.Scale[:])
		r.f32s(b.Transform[:])
	}

	n = r.count(4, "external id")
	t.ExternalIDs = makeList[int32](n)
	for i := 0; i < n && r.err == nil; i++ {
		t.ExternalIDs[i] = r.i32()
	}

	if version >= SkeletonVersionNames {
		hasNames := r.u32()
		if hasNames != 0 {
			n = r.count(4, "bone name")
			t.Names = make([]string, n)
			for i := 0; i < n && r.err == nil; i++ {
				l := r.count(1, "name byte")
				t.Names[i] = string(r.padded(l))
			}
		}
	}

	if r.err != nil {
		return nil, errors.Wrap(r.err, "skeleton")
	}
	return t, nil
}

// Bytes serializes the table for its Version.
func (t *BoneTable) Bytes() ([]byte, error) {
	if t.Version != SkeletonVersionBase && t.Version != SkeletonVersionNames {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "skeleton version %d", t.Version)
	}
	if t.Names != nil && t.Version < SkeletonVersionNames {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "bone names need skeleton version %d, have %d", SkeletonVersionNames, t.Version)
	}

	w := &writer{}
	w.u32(uint32(len(t.Bones)))
	for i := range t.Bones {
		b := &t.Bones[i]
		w.i32(b.Parent)
		w.u32(b.Flags)
		w.f32s(b.Position[:])
		w.f32s(b.Rotation[:])
		w.f32s(b.Scale[:])
		w.f32s(b.Transform[:])
	}

	w.u32(uint32(len(t.ExternalIDs)))
	for _, id := range t.ExternalIDs {
		w.i32(id)
	}

	if t.Version >= SkeletonVersionNames {
		if t.Names == nil {
			w.u32(0)
		} else {
			w.u32(1)
			w.u32(uint32(len(t.Names)))
			for _, name := range t.Names {
				w.u32(uint32(len(name)))
				w.padded([]byte(name))
			}
		}
	}

	return w.buf, nil
}
