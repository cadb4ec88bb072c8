// Package brick provides spatial brick addressing and the per-ROI dirty
// brick scheduler.
//
// A brick is a fixed-size cubic voxel region used to scope dirty-region
// tracking and GPU pool allocation. Bricks are identified by a string
// key "bx_by_bz"; the key is a deterministic coordinate hash, not an
// object.
package brick

import (
	"fmt"
	"math"

	"github.com/voxmed/annotate/geom"
)

// Size is the brick edge length in voxels. The brick edge in world
// space is Size multiplied by the quantization step.
const Size = 16

// Key identifies a brick by its integer grid coordinates, formatted as
// "bx_by_bz". Keys compare equal iff they address the same brick.
type Key string

// KeyAt builds the key for explicit brick grid coordinates.
func KeyAt(bx, by, bz int) Key {
	return Key(fmt.Sprintf("%d_%d_%d", bx, by, bz))
}

// KeyFor returns the key of the brick containing a world-space point,
// given the brick edge length in millimeters.
func KeyFor(p geom.Vec3, brickMM float64) Key {
	return KeyAt(
		int(math.Floor(p.X/brickMM)),
		int(math.Floor(p.Y/brickMM)),
		int(math.Floor(p.Z/brickMM)),
	)
}

// Coords parses the key back into brick grid coordinates.
// Returns false for a malformed key.
func (k Key) Coords() (bx, by, bz int, ok bool) {
	n, err := fmt.Sscanf(string(k), "%d_%d_%d", &bx, &by, &bz)
	return bx, by, bz, err == nil && n == 3
}

// OriginMM returns the world-space minimum corner of the brick.
func (k Key) OriginMM(brickMM float64) (geom.Vec3, bool) {
	bx, by, bz, ok := k.Coords()
	if !ok {
		return geom.Vec3{}, false
	}
	return geom.V3(float64(bx)*brickMM, float64(by)*brickMM, float64(bz)*brickMM), true
}

// Around returns the keys of all bricks within range of a sphere at
// center with the given radius: a cube of (2*range+1)^3 keys where
// range = ceil(radius / brickMM). This is the default dirty-brick
// estimate for a spherical brush stroke.
func Around(center geom.Vec3, radiusMM, brickMM float64) []Key {
	r := int(math.Ceil(radiusMM / brickMM))
	cx := int(math.Floor(center.X / brickMM))
	cy := int(math.Floor(center.Y / brickMM))
	cz := int(math.Floor(center.Z / brickMM))

	keys := make([]Key, 0, (2*r+1)*(2*r+1)*(2*r+1))
	for dz := -r; dz <= r; dz++ {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				keys = append(keys, KeyAt(cx+dx, cy+dy, cz+dz))
			}
		}
	}
	return keys
}
