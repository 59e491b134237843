package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// archiveChunkSize is the streaming buffer for archival. Memory during
// archival stays at this order regardless of segment size; segments can reach
// the full rotation threshold before the archiver gets to them.
const archiveChunkSize = 64 * 1024

func (t *Trail) archiveLoop() {
	defer close(t.archiveDone)
	for path := range t.archiveCh {
		gz, err := ArchiveSegment(path, t.opts.ArchiveDir, t.opts.RetainRaw)
		if err != nil {
			t.logger.Error("audit archival failed", "segment", path, "error", err)
			continue
		}
		t.logger.Info("audit segment archived", "segment", path, "archive", gz)
	}
}

// ArchiveSegment compresses a rotated segment into archiveDir and writes the
// SHA-256 of the original bytes alongside it for tamper detection. The
// segment is streamed through the compressor and hash in fixed-size chunks.
// Returns the archive path.
func ArchiveSegment(path, archiveDir string, retainRaw bool) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening rotated segment: %w", err)
	}
	defer in.Close()

	gzPath := filepath.Join(archiveDir, filepath.Base(path)+".gz")
	out, err := os.OpenFile(gzPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, segmentMode)
	if err != nil {
		return "", fmt.Errorf("creating archive: %w", err)
	}

	gz := gzip.NewWriter(out)
	hash := sha256.New()
	buf := make([]byte, archiveChunkSize)
	if _, err := io.CopyBuffer(io.MultiWriter(gz, hash), in, buf); err != nil {
		gz.Close()
		out.Close()
		os.Remove(gzPath)
		return "", fmt.Errorf("compressing segment: %w", err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(gzPath)
		return "", fmt.Errorf("finalizing archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("closing archive: %w", err)
	}

	digest := hex.EncodeToString(hash.Sum(nil))
	sumLine := fmt.Sprintf("%s  %s\n", digest, filepath.Base(path))
	if err := os.WriteFile(gzPath+".sha256", []byte(sumLine), segmentMode); err != nil {
		return "", fmt.Errorf("writing checksum: %w", err)
	}

	if !retainRaw {
		if err := os.Remove(path); err != nil {
			return "", fmt.Errorf("removing raw segment: %w", err)
		}
	}
	return gzPath, nil
}

// VerifyResult reports one archive's integrity check.
type VerifyResult struct {
	Archive string
	OK      bool
	Err     error
}

// VerifyArchives recomputes the hash of every archived segment's decompressed
// content and compares it to the recorded checksum.
func VerifyArchives(archiveDir string) ([]VerifyResult, error) {
	entries, err := os.ReadDir(archiveDir)
	if err != nil {
		return nil, fmt.Errorf("reading archive dir: %w", err)
	}

	var results []VerifyResult
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".gz") {
			continue
		}
		gzPath := filepath.Join(archiveDir, entry.Name())
		verr := verifyArchive(gzPath)
		results = append(results, VerifyResult{Archive: gzPath, OK: verr == nil, Err: verr})
	}
	return results, nil
}

func verifyArchive(gzPath string) error {
	sum, err := os.ReadFile(gzPath + ".sha256")
	if err != nil {
		return fmt.Errorf("reading checksum: %w", err)
	}
	want, _, ok := strings.Cut(strings.TrimSpace(string(sum)), " ")
	if !ok || want == "" {
		return fmt.Errorf("malformed checksum file")
	}

	f, err := os.Open(gzPath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	hash := sha256.New()
	buf := make([]byte, archiveChunkSize)
	if _, err := io.CopyBuffer(hash, gz, buf); err != nil {
		return fmt.Errorf("hashing archive content: %w", err)
	}

	got := hex.EncodeToString(hash.Sum(nil))
	if !bytes.Equal([]byte(got), []byte(want)) {
		return fmt.Errorf("checksum mismatch: recorded %s, computed %s", want, got)
	}
	return nil
}
