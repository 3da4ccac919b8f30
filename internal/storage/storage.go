// Package storage implements spec.md §6's persisted state: on swarm
// termination, each peer writes <FileName> inside peer_<peerId>/. It
// follows the teacher's createTruncateSync (transfer.go): create, write,
// Sync. A bencode-encoded completion manifest is written alongside it as a
// structured receipt, grounded in the teacher's own use of
// github.com/zeebo/bencode for torrent-metadata decoding (main.go's
// handleTorrentShow) — here the same library is used to encode, rather than
// decode, a small fixed-shape record.
package storage

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/zeebo/bencode"
)

// OutputDir returns peer_<peerID>, spec.md §6's fixed directory naming.
func OutputDir(root string, peerID int32) string {
	return filepath.Join(root, "peer_"+strconv.FormatInt(int64(peerID), 10))
}

// ReadSeedFile reads the complete source file for a peer whose PeerInfo.cfg
// row sets hasFile=1. Such a peer is expected to already have <fileName>
// staged under peer_<peerID>/ before the swarm starts, matching the layout
// WriteFile uses for the reconstructed output at termination.
func ReadSeedFile(root string, peerID int32, fileName string) ([]byte, error) {
	path := filepath.Join(OutputDir(root, peerID), fileName)
	return os.ReadFile(path) // nolint: gosec
}

// SplitIntoPieces slices content into numPieces chunks of pieceSize bytes,
// the last possibly shorter, for seeding a peer's pieces.Array at startup.
func SplitIntoPieces(content []byte, pieceSize int64, numPieces int) [][]byte {
	out := make([][]byte, numPieces)
	for i := 0; i < numPieces; i++ {
		start := int64(i) * pieceSize
		end := start + pieceSize
		if end > int64(len(content)) {
			end = int64(len(content))
		}
		out[i] = content[start:end]
	}
	return out
}

// WriteFile persists content (already truncated to FileSize by the caller)
// as peer_<peerID>/<fileName>, creating the directory if needed.
func WriteFile(root string, peerID int32, fileName string, content []byte) (string, error) {
	dir := OutputDir(root, peerID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fileName)
	f, err := os.Create(path) // nolint: gosec
	if err != nil {
		return "", err
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

// Manifest is the bencode-encoded completion receipt written next to the
// reconstructed file.
type Manifest struct {
	FileName      string `bencode:"file_name"`
	FileSize      int64  `bencode:"file_size"`
	PieceSize     int64  `bencode:"piece_size"`
	NumberOfPieces int   `bencode:"number_of_pieces"`
	PeerID        int64  `bencode:"peer_id"`
	FinishedAtUTC string `bencode:"finished_at_utc"`
}

// WriteManifest bencode-encodes m to peer_<peerID>/manifest.bencode.
func WriteManifest(root string, peerID int32, m Manifest) (string, error) {
	dir := OutputDir(root, peerID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "manifest.bencode")
	f, err := os.Create(path) // nolint: gosec
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := bencode.NewEncoder(f).Encode(m); err != nil {
		return "", err
	}
	return path, nil
}

// NewManifest builds a Manifest stamped with the current time.
func NewManifest(fileName string, fileSize, pieceSize int64, numPieces int, peerID int32) Manifest {
	return Manifest{
		FileName:      fileName,
		FileSize:      fileSize,
		PieceSize:     pieceSize,
		NumberOfPieces: numPieces,
		PeerID:        int64(peerID),
		FinishedAtUTC: time.Now().UTC().Format(time.RFC3339),
	}
}
