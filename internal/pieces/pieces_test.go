package pieces

import (
	"bytes"
	"testing"
)

func TestSetHaveInvariant(t *testing.T) {
	a := New(2, 4, 8, false, nil)
	if a.Status(0) != NotHave {
		t.Fatal("fresh piece should be NotHave")
	}
	if a.Content(0) != nil {
		t.Fatal("NotHave piece should have nil content")
	}
	a.Set(0, Have, []byte("abcd"))
	if a.Status(0) != Have {
		t.Fatal("status not Have after Set")
	}
	if !bytes.Equal(a.Content(0), []byte("abcd")) {
		t.Fatal("content not stored")
	}
}

func TestSetHaveRequiresContent(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic setting Have with nil content")
		}
	}()
	a := New(1, 4, 4, false, nil)
	a.Set(0, Have, nil)
}

func TestSetNotHaveClearsContent(t *testing.T) {
	a := New(1, 4, 4, false, nil)
	a.Set(0, Have, []byte("abcd"))
	a.Set(0, Requested, nil)
	if a.Content(0) != nil {
		t.Fatal("content should be cleared when status leaves Have")
	}
}

func TestSeedFull(t *testing.T) {
	content := [][]byte{[]byte("ab"), []byte("cd")}
	a := New(2, 2, 4, true, content)
	if !a.All() {
		t.Fatal("seeded array should be All")
	}
	if !bytes.Equal(a.Content(0), []byte("ab")) {
		t.Fatal("seeded content wrong")
	}
}

func TestChooseRequestPicksWantedPiece(t *testing.T) {
	a := New(3, 4, 12, false, nil)
	remote := NewRemoteView(3)
	remote.SetHave(1)
	idx := a.ChooseRequest(remote)
	if idx != 1 {
		t.Fatalf("expected piece 1, got %d", idx)
	}
	if a.Status(1) != Requested {
		t.Fatal("chosen piece should be marked Requested")
	}
}

func TestChooseRequestNoneAvailable(t *testing.T) {
	a := New(2, 4, 8, false, nil)
	remote := NewRemoteView(2) // nothing remote has
	if idx := a.ChooseRequest(remote); idx != -1 {
		t.Fatalf("expected -1, got %d", idx)
	}
}

func TestChooseRequestSkipsAlreadyRequested(t *testing.T) {
	a := New(1, 4, 4, false, nil)
	remote := NewRemoteView(1)
	remote.SetHave(0)
	if idx := a.ChooseRequest(remote); idx != 0 {
		t.Fatal("expected piece 0 on first call")
	}
	if idx := a.ChooseRequest(remote); idx != -1 {
		t.Fatal("expected -1 once the only candidate is already Requested")
	}
}

func TestBitfieldReflectsHaveOnly(t *testing.T) {
	a := New(3, 4, 12, false, nil)
	a.Set(0, Have, []byte("abcd"))
	a.Set(1, Requested, nil)
	bf := a.Bitfield()
	if !bf.Test(0) {
		t.Fatal("bit 0 should be set")
	}
	if bf.Test(1) || bf.Test(2) {
		t.Fatal("REQUESTED and NOT_HAVE should not appear in the bitfield")
	}
}

func TestAssembleTruncatesFinalPiece(t *testing.T) {
	a := New(2, 4, 6, false, nil)
	a.Set(0, Have, []byte("abcd"))
	a.Set(1, Have, []byte("ef")) // final piece shorter than pieceSize
	out := a.Assemble()
	if !bytes.Equal(out, []byte("abcdef")) {
		t.Fatalf("got %q", out)
	}
}

func TestAssemblePanicsIfIncomplete(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic assembling an incomplete array")
		}
	}()
	a := New(2, 4, 8, false, nil)
	a.Assemble()
}

func TestPieceLenFinalPiece(t *testing.T) {
	a := New(3, 4, 10, false, nil)
	if a.PieceLen(0) != 4 || a.PieceLen(1) != 4 {
		t.Fatal("non-final pieces should be full pieceSize")
	}
	if a.PieceLen(2) != 2 {
		t.Fatal("final piece should be the remainder")
	}
}
