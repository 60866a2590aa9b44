package compaction

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// FragmentsDirName is the session-root subdirectory fragments live under,
// mirroring g3-core/src/paths.rs::get_fragments_dir.
const FragmentsDirName = "fragments"

// SaveFragment writes a fragment as zstd-compressed JSON under
// <sessionRoot>/fragments/fragment_<id>.json.zst. Compression is transparent
// to callers: LoadFragment decodes the same JSON document this writes.
// Only the fields declared on Fragment survive a round-trip; any other
// field in a stored document is dropped when it is loaded.
func SaveFragment(sessionRoot string, f Fragment) (string, error) {
	dir := filepath.Join(sessionRoot, FragmentsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("compaction: create fragments dir: %w", err)
	}

	raw, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("compaction: marshal fragment: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return "", fmt.Errorf("compaction: create zstd encoder: %w", err)
	}
	defer encoder.Close()
	compressed := encoder.EncodeAll(raw, nil)

	fileName := fmt.Sprintf("fragment_%s.json.zst", f.FragmentID)
	fullPath := filepath.Join(dir, fileName)

	tmpPath := fullPath + ".tmp"
	if err := os.WriteFile(tmpPath, compressed, 0o644); err != nil {
		return "", fmt.Errorf("compaction: write fragment file: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		return "", fmt.Errorf("compaction: rename fragment file: %w", err)
	}

	return filepath.Join(FragmentsDirName, fileName), nil
}

// LoadFragment reads back a fragment previously written by SaveFragment.
func LoadFragment(sessionRoot, fragmentID string) (Fragment, error) {
	fileName := fmt.Sprintf("fragment_%s.json.zst", fragmentID)
	fullPath := filepath.Join(sessionRoot, FragmentsDirName, fileName)

	compressed, err := os.ReadFile(fullPath)
	if err != nil {
		return Fragment{}, fmt.Errorf("compaction: fragment not found: %s: %w", fragmentID, err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return Fragment{}, fmt.Errorf("compaction: create zstd decoder: %w", err)
	}
	defer decoder.Close()

	raw, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return Fragment{}, fmt.Errorf("compaction: decompress fragment: %w", err)
	}

	var f Fragment
	if err := json.Unmarshal(raw, &f); err != nil {
		return Fragment{}, fmt.Errorf("compaction: unmarshal fragment: %w", err)
	}
	return f, nil
}
