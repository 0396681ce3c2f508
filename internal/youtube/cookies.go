package youtube

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const cookieFileName = "cookies.txt"

// cookieStaleAfter is how old the cookie file can get before its status
// starts reporting it as stale. YouTube session cookies rot well within
// this window in practice, so the UI nudges the user to re-export.
const cookieStaleAfter = 30 * 24 * time.Hour

var ErrInvalidCookieFile = errors.New("cookie file does not contain YouTube cookies")

type (
	// CookieFile manages the Netscape-format cookie export at its
	// well-known location inside the data directory.
	CookieFile struct {
		path string
	}

	CookieStatus struct {
		Present    bool       `json:"present"`
		SizeBytes  int64      `json:"sizeBytes"`
		ModifiedAt *time.Time `json:"modifiedAt"`
		AgeDays    int        `json:"ageDays"`
		Stale      bool       `json:"stale"`
	}
)

func NewCookieFile(dataDir string) *CookieFile {
	return &CookieFile{path: filepath.Join(dataDir, cookieFileName)}
}

func (cookies *CookieFile) Path() string { return cookies.path }

// Present reports whether a non-empty cookie file exists. A zero-byte file
// counts as absent; yt-dlp treats an empty cookie jar as no authentication.
func (cookies *CookieFile) Present() bool {
	info, err := os.Stat(cookies.path)
	return err == nil && info.Size() > 0
}

func (cookies *CookieFile) Status() CookieStatus {
	info, err := os.Stat(cookies.path)
	if err != nil || info.Size() == 0 {
		return CookieStatus{}
	}

	modified := info.ModTime().UTC()
	age := time.Since(modified)

	return CookieStatus{
		Present:    true,
		SizeBytes:  info.Size(),
		ModifiedAt: &modified,
		AgeDays:    int(age.Hours() / 24),
		Stale:      age > cookieStaleAfter,
	}
}

// Store validates and persists an uploaded cookie export. The only sanity
// check applied is that the content mentions the youtube.com domain at all;
// anything else is almost certainly an export from the wrong site.
func (cookies *CookieFile) Store(contents []byte) error {
	if !strings.Contains(strings.ToLower(string(contents)), "youtube.com") {
		return ErrInvalidCookieFile
	}

	if err := os.MkdirAll(filepath.Dir(cookies.path), 0o755); err != nil {
		return fmt.Errorf("failed to create cookie directory: %w", err)
	}

	if err := os.WriteFile(cookies.path, contents, 0o600); err != nil {
		return fmt.Errorf("failed to write cookie file: %w", err)
	}

	return nil
}

func (cookies *CookieFile) Remove() error {
	if err := os.Remove(cookies.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove cookie file: %w", err)
	}

	return nil
}
