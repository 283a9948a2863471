// Package skeleton re-bakes the stored bone transforms of a bone table from
// their separately stored position, rotation and scale channels.
//
// For a bone with parent p:
//
//	local  = Translate(-position) × Rotate(conjugate(rotation)) × Scale(scale)
//	stored = stored(p) × local      (identity for roots)
//
// Children are visited in bone order after their parent.
package skeleton

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Faultbox/mdlkit/internal/logger"
	"github.com/Faultbox/mdlkit/pkg/formats"
	"github.com/Faultbox/mdlkit/pkg/math"
)

// ErrParentCycle is returned when a bone is reached twice in one pass.
var ErrParentCycle = errors.New("bone parent cycle")

// LocalTransform builds a bone's local matrix from its skinning channels.
func LocalTransform(b *formats.BoneRecord) math.Mat4 {
	pos := math.V3(b.Position).Neg()
	rot := math.QuatFromArray(b.Rotation).Conjugate()
	return math.FromTRS(pos, rot, math.V3(b.Scale))
}

// pass holds the children adjacency list, built once per call.
type pass struct {
	table    *formats.BoneTable
	children [][]int
	visited  []bool
	saved    []math.Mat4
}

func newPass(table *formats.BoneTable) (*pass, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	p := &pass{
		table:    table,
		children: make([][]int, len(table.Bones)),
		visited:  make([]bool, len(table.Bones)),
		saved:    make([]math.Mat4, len(table.Bones)),
	}
	for i, b := range table.Bones {
		p.saved[i] = b.Transform
		if b.Parent != formats.BoneNone {
			p.children[b.Parent] = append(p.children[b.Parent], i)
		}
	}
	return p, nil
}

// restore puts back the stored transforms captured by newPass.
func (p *pass) restore() {
	for i := range p.table.Bones {
		p.table.Bones[i].Transform = p.saved[i]
	}
}

func (p *pass) parentStored(i int) math.Mat4 {
	parent := p.table.Bones[i].Parent
	if parent == formats.BoneNone {
		return math.Identity()
	}
	return p.table.Bones[parent].Transform
}

func (p *pass) fixup(i int) error {
	if p.visited[i] {
		return errors.Wrapf(ErrParentCycle, "bone %d", i)
	}
	p.visited[i] = true

	b := &p.table.Bones[i]
	b.Transform = p.parentStored(i).Mul(LocalTransform(b))
	for _, c := range p.children[i] {
		if err := p.fixup(c); err != nil {
			return err
		}
	}
	return nil
}

// FixupFrom recomputes bone i's stored transform from its parent's stored
// transform and its own channels, then recurses into its descendants.
func FixupFrom(table *formats.BoneTable, i int) error {
	if i < 0 || i >= len(table.Bones) {
		return errors.Wrapf(formats.ErrRange, "bone %d (bone count %d)", i, len(table.Bones))
	}
	p, err := newPass(table)
	if err != nil {
		return err
	}
	if err := p.fixup(i); err != nil {
		p.restore()
		return err
	}
	logger.Debug("skeleton fixup", zap.Int("bone", i), zap.String("name", table.BoneName(i)))
	return nil
}

// FixupAll re-bakes every bone reachable from a root.
func FixupAll(table *formats.BoneTable) error {
	p, err := newPass(table)
	if err != nil {
		return err
	}
	roots := 0
	for i, b := range table.Bones {
		if b.Parent == formats.BoneNone {
			roots++
			if err := p.fixup(i); err != nil {
				p.restore()
				return err
			}
		}
	}
	logger.Debug("skeleton fixup", zap.Int("bones", len(table.Bones)), zap.Int("roots", roots))
	return nil
}

// RelativeTransforms returns each bone's transform relative to its parent,
// inverse(stored(parent)) × stored, without touching the channels. A parent
// with a singular stored transform returns math.ErrDegenerateMatrix.
func RelativeTransforms(table *formats.BoneTable) ([]math.Mat4, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	out := make([]math.Mat4, len(table.Bones))
	for i, b := range table.Bones {
		if b.Parent == formats.BoneNone {
			out[i] = b.Transform
			continue
		}
		inv, err := table.Bones[b.Parent].Transform.Inverse()
		if err != nil {
			return nil, errors.Wrapf(err, "bone %d parent %d", i, b.Parent)
		}
		out[i] = inv.Mul(b.Transform)
	}
	return out, nil
}

// BakeLocalChannels decomposes the relative transforms back into the
// position, rotation and scale channels, for skeletons where only the stored
// transforms are authoritative. A following FixupAll reproduces the stored
// transforms within float tolerance. The table is unchanged on error.
func BakeLocalChannels(table *formats.BoneTable) error {
	rel, err := RelativeTransforms(table)
	if err != nil {
		return err
	}
	for i := range table.Bones {
		t, r, s := rel[i].Decompose()
		b := &table.Bones[i]
		b.Position = t.Neg().Array4(b.Position[3])
		b.Rotation = r.Conjugate().Array()
		b.Scale = s.Array4(b.Scale[3])
	}
	return nil
}

// Rescale sets a bone's scale channel and re-bakes it and its descendants so
// children stay attached.
func Rescale(table *formats.BoneTable, bone int, scale math.Vec3) error {
	if bone < 0 || bone >= len(table.Bones) {
		return errors.Wrapf(formats.ErrRange, "bone %d (bone count %d)", bone, len(table.Bones))
	}
	b := &table.Bones[bone]
	prev := b.Scale
	b.Scale = scale.Array4(b.Scale[3])
	if err := FixupFrom(table, bone); err != nil {
		b.Scale = prev
		return err
	}
	return nil
}

// GlobalTransform composes bone i's transform by walking its parent chain,
// global = parent_global × local, without reading or writing stored
// transforms.
func GlobalTransform(table *formats.BoneTable, i int) (math.Mat4, error) {
	if i < 0 || i >= len(table.Bones) {
		return math.Mat4{}, errors.Wrapf(formats.ErrRange, "bone %d (bone count %d)", i, len(table.Bones))
	}
	var chain []int
	for b := i; b != formats.BoneNone; b = int(table.Bones[b].Parent) {
		if b < 0 || b >= len(table.Bones) {
			return math.Mat4{}, errors.Wrapf(formats.ErrRange, "bone %d parent chain reaches %d", i, b)
		}
		if len(chain) > len(table.Bones) {
			return math.Mat4{}, errors.Wrapf(ErrParentCycle, "bone %d", i)
		}
		chain = append(chain, b)
	}
	m := math.Identity()
	for k := len(chain) - 1; k >= 0; k-- {
		m = m.Mul(LocalTransform(&table.Bones[chain[k]]))
	}
	return m, nil
}
