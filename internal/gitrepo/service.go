// Package gitrepo mirrors page versions into one git repository per page so
// history can be inspected and diffed with ordinary git tooling.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"sheetapp/api/internal/sheet"
)

const (
	snapshotFile   = "snapshot.json"
	mainBranch     = "main"
	versionTrailer = "Version-Id: "
)

var (
	ErrNoRepo        = errors.New("page has no history repository")
	ErrUnknownCommit = errors.New("unknown commit")
)

type CommitInfo struct {
	Hash      string    `json:"hash"`
	VersionID int64     `json:"version_id,omitempty"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// VersionCommit is one saved version to record.
type VersionCommit struct {
	VersionID int64
	Author    string
	Message   string
	Snapshot  sheet.Snapshot
	When      time.Time
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// CommitVersion records a version snapshot on main, creating the page's
// repository on first use. Identical snapshots still produce a commit so
// every version has one.
func (s *Service) CommitVersion(pageID string, v VersionCommit) (CommitInfo, error) {
	lock := s.pageLock(pageID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(pageID)
	if err != nil {
		return CommitInfo{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(v.Snapshot, "", "  ")
	if err != nil {
		return CommitInfo{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return CommitInfo{}, fmt.Errorf("git add snapshot: %w", err)
	}

	when := v.When
	if when.IsZero() {
		when = time.Now()
	}
	author := v.Author
	if strings.TrimSpace(author) == "" {
		author = "deleted user"
	}
	message := v.Message
	if v.VersionID > 0 {
		message = fmt.Sprintf("%s\n\n%s%d", message, versionTrailer, v.VersionID)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.sheetapp.dev", sanitizeEmail(author)),
			When:  when,
		},
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit snapshot: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

func (s *Service) openOrInit(pageID string) (*git.Repository, error) {
	path := s.repoPath(pageID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) open(pageID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(pageID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoRepo
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

// History lists commits on main, newest first. A page without a repository
// has an empty history.
func (s *Service) History(pageID string, limit int) ([]CommitInfo, error) {
	lock := s.pageLock(pageID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(pageID)
	if errors.Is(err, ErrNoRepo) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, err
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, max(limit, 0))
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// SnapshotAt reads the grid recorded by a commit. Abbreviated hashes are accepted.
func (s *Service) SnapshotAt(pageID, hash string) (sheet.Snapshot, error) {
	lock := s.pageLock(pageID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(pageID)
	if err != nil {
		return sheet.Snapshot{}, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return sheet.Snapshot{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return sheet.Snapshot{}, fmt.Errorf("%w %s: %w", ErrUnknownCommit, hash, err)
	}
	return readSnapshot(commitObj)
}

// Remove deletes the page's repository. Missing repositories are ignored.
func (s *Service) Remove(pageID string) error {
	lock := s.pageLock(pageID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(pageID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	s.lockMu.Lock()
	delete(s.locks, pageID)
	s.lockMu.Unlock()
	return nil
}

func (s *Service) repoPath(pageID string) string {
	return filepath.Join(s.baseDir, pageID)
}

func (s *Service) pageLock(pageID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[pageID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[pageID] = lock
	return lock
}

func readSnapshot(commitObj *object.Commit) (sheet.Snapshot, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return sheet.Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return sheet.Snapshot{}, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return sheet.Snapshot{}, fmt.Errorf("read snapshot bytes: %w", err)
	}
	var snap sheet.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return sheet.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	info := CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
	if i := strings.LastIndex(commitObj.Message, versionTrailer); i >= 0 {
		rest := strings.TrimSpace(commitObj.Message[i+len(versionTrailer):])
		if id, err := strconv.ParseInt(rest, 10, 64); err == nil {
			info.VersionID = id
			info.Message = strings.TrimSpace(commitObj.Message[:i])
		}
	}
	return info
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w %s: %w", ErrUnknownCommit, hash, err)
	}
	return *resolved, nil
}
