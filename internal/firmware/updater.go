package firmware

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Slot file names inside the firmware directory.
const (
	PendingFile  = "pending.bin"
	NextFile     = "next.bin"
	manifestFile = "next.json"

	// PreviousSuffix names the copy of the image Install replaced.
	PreviousSuffix = ".prev"
)

// Image describes a committed boot image.
type Image struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	Session     string    `json:"session"`
	CommittedAt time.Time `json:"committed_at"`
}

// Updater is the update target a session streams into.
type Updater interface {
	// Begin allocates a target of unknown size. expectedSHA256 may be empty.
	Begin(sessionID, expectedSHA256 string) error
	// Write appends p. It accepts fewer bytes than len(p) when the target is full.
	Write(p []byte) (int, error)
	// End finalizes and verifies the image and commits it as the next boot image.
	End() (Image, error)
	// Abort discards the staged image.
	Abort() error
}

// FileUpdater stages images in a directory. The staged file is only
// renamed into the next-boot slot after verification, so the previous
// image stays bootable whatever happens to the upload.
type FileUpdater struct {
	dir      string
	maxBytes int64
	now      func() time.Time

	f        *os.File
	hash     hash.Hash
	written  int64
	expected string
	session  string
}

// NewFileUpdater creates a FileUpdater rooted at dir accepting at most maxBytes per image.
func NewFileUpdater(dir string, maxBytes int64) *FileUpdater {
	return &FileUpdater{dir: dir, maxBytes: maxBytes, now: time.Now}
}

func (u *FileUpdater) Begin(sessionID, expectedSHA256 string) error {
	if u.f != nil {
		return errors.New("update already in progress")
	}
	if err := os.MkdirAll(u.dir, 0755); err != nil {
		return fmt.Errorf("create firmware directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(u.dir, PendingFile), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	u.f = f
	u.hash = sha256.New()
	u.written = 0
	u.expected = strings.ToLower(strings.TrimSpace(expectedSHA256))
	u.session = sessionID
	return nil
}

func (u *FileUpdater) Write(p []byte) (int, error) {
	if u.f == nil {
		return 0, errors.New("no update in progress")
	}
	if room := u.maxBytes - u.written; u.maxBytes > 0 && int64(len(p)) > room {
		p = p[:max(room, 0)]
	}
	n, err := u.f.Write(p)
	u.hash.Write(p[:n])
	u.written += int64(n)
	return n, err
}

func (u *FileUpdater) End() (Image, error) {
	if u.f == nil {
		return Image{}, errors.New("no update in progress")
	}
	pending := u.f.Name()
	err := u.f.Sync()
	if cerr := u.f.Close(); err == nil {
		err = cerr
	}
	u.f = nil
	if err != nil {
		os.Remove(pending)
		return Image{}, fmt.Errorf("flush staging file: %w", err)
	}

	if u.written == 0 {
		os.Remove(pending)
		return Image{}, errors.New("empty image")
	}
	sum := hex.EncodeToString(u.hash.Sum(nil))
	if u.expected != "" && sum != u.expected {
		os.Remove(pending)
		return Image{}, fmt.Errorf("checksum mismatch: got %s, want %s", sum, u.expected)
	}

	img := Image{
		Path:        filepath.Join(u.dir, NextFile),
		Size:        u.written,
		SHA256:      sum,
		Session:     u.session,
		CommittedAt: u.now().UTC(),
	}
	if err := commit(u.dir, pending, img); err != nil {
		os.Remove(pending)
		return Image{}, err
	}
	return img, nil
}

// commit moves pending into the next-boot slot together with its
// manifest. next.json only ever describes the next.bin beside it: the old
// manifest goes first, the new one last, and a failure in between leaves
// the slot empty.
func commit(dir, pending string, img Image) error {
	data, err := json.MarshalIndent(img, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	manifest := filepath.Join(dir, manifestFile)
	tmp := manifest + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Remove(manifest); err != nil && !errors.Is(err, os.ErrNotExist) {
		os.Remove(tmp)
		return fmt.Errorf("retire manifest: %w", err)
	}
	if err := os.Rename(pending, img.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit image: %w", err)
	}
	if err := os.Rename(tmp, manifest); err != nil {
		os.Remove(tmp)
		os.Remove(img.Path)
		return fmt.Errorf("commit manifest: %w", err)
	}
	return nil
}

func (u *FileUpdater) Abort() error {
	if u.f == nil {
		return nil
	}
	pending := u.f.Name()
	u.f.Close()
	u.f = nil
	if err := os.Remove(pending); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove staging file: %w", err)
	}
	return nil
}

// Next returns the image committed for the next boot, or nil if none.
func (u *FileUpdater) Next() (*Image, error) {
	data, err := os.ReadFile(filepath.Join(u.dir, manifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var img Image
	if err := json.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &img, nil
}

// Install copies the committed image over target, the binary the next
// start runs, and empties the slot. The replaced binary is kept as
// target+PreviousSuffix. It reports false when no image is committed.
func (u *FileUpdater) Install(target string) (bool, error) {
	img, err := u.Next()
	if err != nil || img == nil {
		return false, err
	}
	src := filepath.Join(u.dir, NextFile)
	sum, err := fileSHA256(src)
	if err != nil {
		return false, fmt.Errorf("read committed image: %w", err)
	}
	if sum != img.SHA256 {
		return false, fmt.Errorf("committed image checksum %s does not match manifest %s", sum, img.SHA256)
	}

	mode := os.FileMode(0755)
	if info, err := os.Stat(target); err == nil {
		mode = info.Mode().Perm()
		if err := copyFile(target, target+PreviousSuffix, mode); err != nil {
			return false, fmt.Errorf("keep previous image: %w", err)
		}
	}
	tmp := target + ".new"
	if err := copyFile(src, tmp, mode); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("stage image: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("install image: %w", err)
	}

	os.Remove(filepath.Join(u.dir, manifestFile))
	os.Remove(src)
	log.Info().Str("target", target).Str("sha256", img.SHA256).Str("session", img.Session).Msg("Firmware image installed")
	return true, nil
}

func fileSHA256(path string) (string, error) {
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

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dst, mode)
}
