package formats

import "github.com/pkg/errors"

// RecalcLodGroup stable-partitions the group's meshes by the cloth flag of
// each mesh's first submesh and sets Count1/Count2 to the partition sizes.
// Meshes without submeshes count as non-cloth. A first submesh index out of
// range returns ErrRange and leaves the group unchanged.
func (g *Geometry) RecalcLodGroup(group *LodGroup) error {
	plain := make([]Mesh, 0, len(group.Meshes))
	var cloth []Mesh
	for i := range group.Meshes {
		m := group.Meshes[i]
		isCloth := false
		if len(m.Submeshes) > 0 {
			sm, err := g.Submesh(m.Submeshes[0])
			if err != nil {
				return errors.Wrapf(err, "mesh %d", i)
			}
			isCloth = sm.IsCloth()
		}
		if isCloth {
			cloth = append(cloth, m)
		} else {
			plain = append(plain, m)
		}
	}

	if group.Meshes != nil {
		group.Meshes = append(plain, cloth...)
	}
	group.Count1 = uint32(len(plain))
	group.Count2 = uint32(len(cloth))
	return nil
}

// RecalcLodGroups applies RecalcLodGroup to every group.
func (g *Geometry) RecalcLodGroups() error {
	for i := range g.LodGroups {
		if err := g.RecalcLodGroup(&g.LodGroups[i]); err != nil {
			return errors.Wrapf(err, "lod group %d", i)
		}
	}
	return nil
}

// LodCountsValid reports whether Count1/Count2 describe the group's current
// mesh order.
func (g *Geometry) LodCountsValid(group *LodGroup) bool {
	if int(group.Count1)+int(group.Count2) != len(group.Meshes) {
		return false
	}
	for i, m := range group.Meshes {
		isCloth := false
		if len(m.Submeshes) > 0 {
			sm, err := g.Submesh(m.Submeshes[0])
			if err != nil {
				return false
			}
			isCloth = sm.IsCloth()
		}
		if isCloth != (i >= int(group.Count1)) {
			return false
		}
	}
	return true
}
