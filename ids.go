package vkforge

import "fmt"

// kind tags which slot table an id was allocated from.
type kind uint8

const (
	kindBuffer kind = iota
	kindImage
	kindImageView
	kindSampler
)

func (k kind) String() string {
	switch k {
	case kindBuffer:
		return "buffer"
	case kindImage:
		return "image"
	case kindImageView:
		return "image view"
	case kindSampler:
		return "sampler"
	default:
		return "unknown"
	}
}

// id is a 64-bit value splitting into a 32-bit slot index (low bits) and a
// 32-bit generation counter (high bits). Equality is structural; an id is
// valid iff its generation matches the slot's current generation. Ids are
// not pointers: they survive table relocation.
type id uint64

func makeID(slot, generation uint32) id {
	return id(uint64(generation)<<32 | uint64(slot))
}

func (i id) slot() uint32       { return uint32(i) }
func (i id) generation() uint32 { return uint32(i >> 32) }

func (i id) String() string {
	return fmt.Sprintf("%d:%d", i.slot(), i.generation())
}

// BufferId, ImageId, ImageViewId, SamplerId are the four resource id
// varieties named in spec §3. Each wraps the packed (slot,generation) id
// with a distinct Go type so they can't be silently mixed up at call
// sites, the way the teacher kept separate vk.Buffer/vk.Image/etc. fields
// rather than one untyped handle.
type BufferId struct{ id id }
type ImageId struct {
	id id
	// defaultView identifies the image's inline default view slot, valid
	// for the lifetime of the image (spec §3: "An Image slot carries an
	// inline default ImageView slot"). Its generation is tracked
	// independently of the image's own, since it comes from a distinct
	// slot table.
	defaultView           uint32
	defaultViewGeneration uint32
}
type ImageViewId struct{ id id }
type SamplerId struct{ id id }

func (b BufferId) IsEmpty() bool     { return b.id == 0 }
func (i ImageId) IsEmpty() bool      { return i.id == 0 }
func (v ImageViewId) IsEmpty() bool  { return v.id == 0 }
func (s SamplerId) IsEmpty() bool    { return s.id == 0 }
func (b BufferId) String() string    { return "buffer#" + b.id.String() }
func (i ImageId) String() string     { return "image#" + i.id.String() }
func (v ImageViewId) String() string { return "image_view#" + v.id.String() }
func (s SamplerId) String() string   { return "sampler#" + s.id.String() }

// DefaultView returns the id of the image's inline default view.
func (i ImageId) DefaultView() ImageViewId {
	return ImageViewId{id: makeID(i.defaultView, i.defaultViewGeneration)}
}
