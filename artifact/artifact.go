package artifact

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Store derives every artifact path for one script from a stable ID, so
// runs for different scripts never share files.
type Store struct {
	Dir string
	ID  string
}

// NewStore creates the output directory if needed.
func NewStore(dir, id string) (*Store, error) {
	if id == "" {
		return nil, errors.New("artifact store needs a non-empty id")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create artifact dir %s", dir)
	}
	return &Store{Dir: dir, ID: id}, nil
}

func (s *Store) path(suffix string) string {
	return filepath.Join(s.Dir, s.ID+suffix)
}

func (s *Store) DraftVideo() string { return s.path("_draft.mp4") }
func (s *Store) FinalVideo() string { return s.path("_final.mp4") }
func (s *Store) SummaryPath() string { return s.path("_summary.json") }

func (s *Store) AttemptVideo(attempt int) string {
	return s.path(fmt.Sprintf("_attempt%d_final.mp4", attempt))
}

func (s *Store) RatingPath(attempt int) string {
	return s.path(fmt.Sprintf("_attempt%d_rating.json", attempt))
}

func (s *Store) SafetyPath(attempt int) string {
	return s.path(fmt.Sprintf("_attempt%d_safety.json", attempt))
}

// WorkDir returns a scratch directory for intermediate files of one attempt.
func (s *Store) WorkDir(name string) (string, error) {
	dir := filepath.Join(s.Dir, s.ID+"_work", name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "create work dir %s", dir)
	}
	return dir, nil
}

// TempPath returns a hidden sibling of final that keeps its extension, so
// encoders that sniff the container from the name still work.
func TempPath(final string) string {
	dir, base := filepath.Split(final)
	ext := filepath.Ext(base)
	return filepath.Join(dir, "."+strings.TrimSuffix(base, ext)+".tmp"+ext)
}

// Commit moves a finished temp file into place.
func Commit(tmp, final string) error {
	if err := os.Rename(tmp, final); err != nil {
		return errors.Wrapf(err, "commit %s", final)
	}
	return nil
}

// WriteFile writes data to a temp file in the same directory and renames it
// over path. Readers see the old file or the new one, never a partial write.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrapf(err, "create temp for %s", path)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrapf(err, "sync %s", tmp)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmp)
	}
	if err := os.Chmod(tmp, perm); err != nil {
		return errors.Wrapf(err, "chmod %s", tmp)
	}
	return Commit(tmp, path)
}

// WriteJSON atomically writes v as indented JSON.
func WriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "marshal %s", path)
	}
	return WriteFile(path, data, 0644)
}

// ReadJSON decodes a JSON artifact into v.
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	return errors.Wrapf(json.Unmarshal(data, v), "decode %s", path)
}

// Promote copies src over dst atomically. src is left in place.
func Promote(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "open %s", src)
	}
	defer in.Close()

	tmp := TempPath(dst)
	out, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "create %s", tmp)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "copy %s", src)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "close %s", tmp)
	}
	return Commit(tmp, dst)
}
