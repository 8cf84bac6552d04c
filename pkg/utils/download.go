package utils

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// FileSHA256 returns the hex-encoded sha256 digest of the file at path.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Download fetches url into dest and verifies its sha256 digest. If dest
// already exists with the expected digest the download is skipped, so the
// download cache survives interrupted runs and `clean`. A stale file with
// the wrong digest is re-fetched.
func Download(ctx context.Context, url, dest, wantSHA256 string) error {
	if sum, err := FileSHA256(dest); err == nil && sum == wantSHA256 {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("could not fetch %s: %s", url, resp.Status)
	}

	// Write to a temp file first so a partial download never shows up
	// under the final name.
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("could not write %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if sum := hex.EncodeToString(h.Sum(nil)); sum != wantSHA256 {
		return fmt.Errorf("checksum mismatch for %s: expected %s got %s", url, wantSHA256, sum)
	}

	return os.Rename(tmp.Name(), dest)
}
