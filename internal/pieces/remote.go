package pieces

import "github.com/go-swarm/swarmpeer/internal/bitfield"

// RemoteView tracks one remote peer's piece availability: HAVE/NOT_HAVE only,
// per spec.md §3 ("REQUESTED does not exist remotely from our perspective").
type RemoteView struct {
	bits bitfield.BitField
}

// NewRemoteView builds an all-NOT_HAVE view of length numPieces.
func NewRemoteView(numPieces int) RemoteView {
	return RemoteView{bits: bitfield.New(nil, uint32(numPieces))}
}

// NewRemoteViewFromBitfield wraps a decoded BITFIELD packet's bitset as a
// RemoteView.
func NewRemoteViewFromBitfield(b bitfield.BitField) RemoteView {
	return RemoteView{bits: b}
}

// Bitfield returns the underlying bitset, e.g. for re-sending as our own
// BITFIELD packet.
func (v RemoteView) Bitfield() bitfield.BitField {
	return v.bits
}

// Replace swaps the whole view for b. (The connection handler applies an
// arriving BITFIELD through State.ReplaceRemotePieces instead.)
func (v *RemoteView) Replace(b bitfield.BitField) {
	v.bits = b
}

// SetHave marks index i as HAVE.
func (v *RemoteView) SetHave(i int) {
	v.bits.Set(uint32(i))
}

// HasPiece reports whether the remote holds piece i.
func (v RemoteView) HasPiece(i int) bool {
	return v.bits.Test(uint32(i))
}

// All reports whether the remote holds every piece.
func (v RemoteView) All() bool {
	return v.bits.All()
}

// Len returns the number of pieces tracked.
func (v RemoteView) Len() int {
	return int(v.bits.Len())
}
