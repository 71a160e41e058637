// Package storage keeps uploaded client documents.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/mozillazg/go-unidecode"
	"github.com/spf13/afero"
)

// MaxUploadSize is the largest accepted upload in bytes.
const MaxUploadSize = 5 << 20

// Declared extension to the content types accepted for it.
var allowedTypes = map[string][]string{
	".pdf":  {"application/pdf"},
	".png":  {"image/png"},
	".jpg":  {"image/jpeg"},
	".jpeg": {"image/jpeg"},
	".doc":  {"application/msword", "application/x-ole-storage"},
	".docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "application/zip"},
}

var (
	ErrTooLarge        = errors.New("file too large")
	ErrEmpty           = errors.New("file is empty")
	ErrExtension       = errors.New("file extension not allowed")
	ErrContentMismatch = errors.New("file content does not match its extension")
)

// IsValidation reports whether err is a rejection of the uploaded file.
func IsValidation(err error) bool {
	return errors.Is(err, ErrTooLarge) || errors.Is(err, ErrEmpty) ||
		errors.Is(err, ErrExtension) || errors.Is(err, ErrContentMismatch)
}

// File describes a stored upload.
type File struct {
	Path         string
	OriginalName string
	ContentType  string
	Size         int64
}

// Store saves files on an afero filesystem.
type Store struct {
	fs afero.Fs
}

// New returns a Store writing to fs.
func New(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

// NewOS returns a Store rooted at dir on the local disk.
func NewOS(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

// Save validates and stores the content of r under dir. The stored name is
// an ASCII version of name prefixed with a random id.
func (s *Store) Save(dir, name string, r io.Reader) (*File, error) {
	ext := strings.ToLower(filepath.Ext(name))
	accepted, ok := allowedTypes[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrExtension, ext)
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxUploadSize {
		return nil, fmt.Errorf("%w: max %s", ErrTooLarge, humanize.IBytes(MaxUploadSize))
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	detected := mimetype.Detect(data)
	if !matchesAny(detected, accepted) {
		return nil, fmt.Errorf("%w: detected %s", ErrContentMismatch, detected.String())
	}

	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	stored := path.Join(dir, uuid.NewString()+"_"+SafeName(name))
	if err := afero.WriteFile(s.fs, stored, data, 0o644); err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}

	return &File{
		Path:         stored,
		OriginalName: filepath.Base(name),
		ContentType:  detected.String(),
		Size:         int64(len(data)),
	}, nil
}

func matchesAny(detected *mimetype.MIME, accepted []string) bool {
	for m := detected; m != nil; m = m.Parent() {
		for _, want := range accepted {
			if m.Is(want) {
				return true
			}
		}
	}
	return false
}

// Open opens a stored file for reading.
func (s *Store) Open(p string) (afero.File, error) {
	return s.fs.Open(p)
}

// ReadFile returns the content of a stored file.
func (s *Store) ReadFile(p string) ([]byte, error) {
	return afero.ReadFile(s.fs, p)
}

// Remove deletes a stored file.
func (s *Store) Remove(p string) error {
	return s.fs.Remove(p)
}

// SafeName folds name to ASCII and keeps only letters, digits, dot, dash and
// underscore.
func SafeName(name string) string {
	base := unidecode.Unidecode(filepath.Base(name))

	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}

	safe := strings.Trim(b.String(), "._")
	if safe == "" {
		safe = "document"
	}
	if len(safe) > 100 {
		safe = safe[len(safe)-100:]
	}
	return safe
}
