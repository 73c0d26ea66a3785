// Package storage persists finished conversation transcripts as JSON files
// under the archive directory, one file per session.
package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ArchivedLine is one transcript line as persisted.
type ArchivedLine struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Text      string `json:"text"`
	Flagged   bool   `json:"flagged,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ArchiveInfo summarizes one stored transcript for listings.
type ArchiveInfo struct {
	UID       string `json:"uid"`
	LineCount int    `json:"line_count"`
	LastText  string `json:"last_text"`
	Timestamp string `json:"timestamp"`
}

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-\.]+$`)

// Archive owns one transcript directory.
type Archive struct {
	baseDir string
}

func NewArchive(baseDir string) *Archive {
	return &Archive{baseDir: baseDir}
}

// Save writes lines as a new archive file and returns its uid. Empty
// transcripts are not stored.
func (a *Archive) Save(lines []ArchivedLine) (string, error) {
	if len(lines) == 0 {
		return "", errors.New("transcript is empty")
	}
	if a.baseDir == "" {
		return "", errors.New("archive base dir is empty")
	}
	if err := os.MkdirAll(a.baseDir, 0o755); err != nil {
		return "", err
	}
	uid := time.Now().Format("2006-01-02_15-04-05") + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	data, err := json.MarshalIndent(lines, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(a.baseDir, uid+".json"), data, 0o644); err != nil {
		return "", err
	}
	return uid, nil
}

// Load reads one archived transcript by uid.
func (a *Archive) Load(uid string) ([]ArchivedLine, error) {
	path, err := a.path(uid)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []ArchivedLine
	if err := json.Unmarshal(data, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

// Delete removes one archive, reporting whether a file was removed.
func (a *Archive) Delete(uid string) bool {
	path, err := a.path(uid)
	if err != nil {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		return false
	}
	return os.Remove(path) == nil
}

// List returns archive summaries, newest first.
func (a *Archive) List() []ArchiveInfo {
	list := []ArchiveInfo{}
	entries, err := os.ReadDir(a.baseDir)
	if err != nil {
		return list
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		uid := strings.TrimSuffix(entry.Name(), ".json")
		lines, err := a.Load(uid)
		if err != nil || len(lines) == 0 {
			continue
		}
		last := lines[len(lines)-1]
		list = append(list, ArchiveInfo{
			UID:       uid,
			LineCount: len(lines),
			LastText:  last.Text,
			Timestamp: last.Timestamp,
		})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Timestamp > list[j].Timestamp
	})
	return list
}

func (a *Archive) path(uid string) (string, error) {
	if a.baseDir == "" {
		return "", errors.New("archive base dir is empty")
	}
	if !safeNamePattern.MatchString(uid) {
		return "", errors.New("invalid archive uid")
	}
	return filepath.Join(a.baseDir, uid+".json"), nil
}
