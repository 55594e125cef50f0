package textfile

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/internal/platform"
)

// bytesPerToken approximates the byte cost of one token for the context
// length gate.
const bytesPerToken = 4

// Validator gates file access by the configured security policy: extension
// allow/block lists, size and token ceilings, and a textual-content check
// for reads.
type Validator struct {
	cfg config.TextFileConfig
}

func NewValidator(cfg config.TextFileConfig) *Validator {
	return &Validator{cfg: cfg}
}

// CheckPolicy validates the extension against the security mode. Strict mode
// admits only allowed extensions; permissive admits everything not blocked;
// unrestricted admits all.
func (v *Validator) CheckPolicy(path string) error {
	if v.cfg.SecurityMode == config.SecurityUnrestricted {
		return nil
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	for _, blocked := range v.cfg.BlockedExtensions {
		if ext == strings.ToLower(blocked) {
			return platform.ErrInvalidRequest("extension ."+ext+" is blocked", nil)
		}
	}
	if v.cfg.SecurityMode == config.SecurityPermissive {
		return nil
	}
	for _, allowed := range v.cfg.AllowedExtensions {
		if ext == strings.ToLower(allowed) {
			return nil
		}
	}
	return platform.ErrInvalidRequest("extension ."+ext+" is not in the allowed list", nil)
}

// CheckReadable validates a file for a full content read: it must exist, be
// a regular file, pass the extension policy, look textual, and fit the size
// and token ceilings.
func (v *Validator) CheckReadable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return platform.ErrNotFound("file does not exist", err)
		}
		return platform.ErrIO("inspecting file", err)
	}
	if info.IsDir() {
		return platform.ErrInvalidRequest("path is not a file", nil)
	}
	if err := v.CheckPolicy(path); err != nil {
		return err
	}
	if info.Size() > v.cfg.MaxFileSize {
		return platform.ErrInvalidRequest("file exceeds the size limit", nil)
	}
	if info.Size()/bytesPerToken > int64(v.cfg.MaxTokenCount) {
		return platform.ErrInvalidRequest("file exceeds the token count limit", nil)
	}
	return v.checkTextual(path)
}

// checkTextual samples the head of the file and rejects binary content: NUL
// bytes or invalid UTF-8.
func (v *Validator) checkTextual(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return platform.ErrIO("opening file", err)
	}
	defer f.Close()

	sample := make([]byte, 8<<10)
	n, err := f.Read(sample)
	if err != nil && n == 0 {
		return platform.ErrIO("sampling file", err)
	}
	sample = sample[:n]
	if bytes.IndexByte(sample, 0) >= 0 {
		return platform.ErrInvalidRequest("file is not textual", nil)
	}
	// A multibyte rune may be cut at the sample boundary; trim up to three
	// trailing bytes before judging validity.
	for i := 0; i < 4 && len(sample) > 0 && !utf8.Valid(sample); i++ {
		sample = sample[:len(sample)-1]
	}
	if !utf8.Valid(sample) {
		return platform.ErrInvalidRequest("file is not textual", nil)
	}
	return nil
}
