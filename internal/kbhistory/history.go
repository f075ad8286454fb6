// Package kbhistory records knowledge-base changes as git commits in the
// knowledge-base directory, so every learned addition and every rollback
// can be inspected and reverted with ordinary git tooling.
package kbhistory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
)

const (
	defaultAuthorName  = "metaconverse-learner"
	defaultAuthorEmail = "learner@metaconverse.local"
)

// Entry is one recorded change.
type Entry struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
}

// Recorder commits a fixed set of files under a repository root.
type Recorder struct {
	repo   *git.Repository
	root   string
	paths  []string
	name   string
	email  string
	now    func() time.Time
	logger *zap.Logger

	mu sync.Mutex
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithAuthor sets the commit author.
func WithAuthor(name, email string) Option {
	return func(r *Recorder) {
		r.name = name
		r.email = email
	}
}

// WithClock overrides time.Now for commit timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// Open opens the git repository at root, initialising one when root is not
// yet a repository. paths are the tracked files, relative to root.
func Open(root string, paths []string, logger *zap.Logger, opts ...Option) (*Recorder, error) {
	if root == "" {
		return nil, errors.New("root is required")
	}
	if len(paths) == 0 {
		return nil, errors.New("at least one tracked path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	repo, err := git.PlainOpen(root)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = initRepo(root)
		if err == nil {
			logger.Info("initialised knowledge-base history", zap.String("root", root))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("kbhistory: open %s: %w", root, err)
	}

	r := &Recorder{
		repo:   repo,
		root:   root,
		paths:  make([]string, 0, len(paths)),
		name:   defaultAuthorName,
		email:  defaultAuthorEmail,
		now:    time.Now,
		logger: logger,
	}
	for _, p := range paths {
		r.paths = append(r.paths, filepath.ToSlash(p))
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ignored keeps build output out of status scans.
const ignored = "models/\n.rasa/\nresults/\n"

func initRepo(root string) (*git.Repository, error) {
	repo, err := git.PlainInit(root, false)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, []byte(ignored), 0644); err != nil {
			return nil, fmt.Errorf("write .gitignore: %w", err)
		}
	}
	return repo, nil
}

// Commit stages the tracked files and commits them with message. It returns
// the new commit hash, or "" when none of the tracked files changed.
func (r *Recorder) Commit(ctx context.Context, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	wt, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("kbhistory: worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("kbhistory: status: %w", err)
	}

	changed := false
	for _, rel := range r.paths {
		fs, tracked := status[rel]
		if !tracked {
			continue
		}
		switch {
		case fs.Worktree == git.Deleted:
			if _, err := wt.Remove(rel); err != nil {
				return "", fmt.Errorf("kbhistory: remove %s: %w", rel, err)
			}
			changed = true
		case fs.Worktree != git.Unmodified:
			if _, err := wt.Add(rel); err != nil {
				return "", fmt.Errorf("kbhistory: add %s: %w", rel, err)
			}
			changed = true
		case fs.Staging != git.Unmodified:
			changed = true
		}
	}
	if !changed {
		return "", nil
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  r.name,
			Email: r.email,
			When:  r.now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("kbhistory: commit: %w", err)
	}
	r.logger.Debug("knowledge-base change committed", zap.String("commit", hash.String()))
	return hash.String(), nil
}

// Log returns up to limit commits, newest first. A limit of zero or less
// returns the whole history.
func (r *Recorder) Log(ctx context.Context, limit int) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	head, err := r.repo.Head()
	if err != nil {
		// no commits yet
		return []Entry{}, nil
	}
	iter, err := r.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("kbhistory: log: %w", err)
	}
	defer iter.Close()

	out := []Entry{}
	for limit <= 0 || len(out) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := iter.Next()
		if err != nil {
			break
		}
		out = append(out, Entry{
			Hash:    c.Hash.String(),
			Message: c.Message,
			Author:  c.Author.Name,
			When:    c.Author.When,
		})
	}
	return out, nil
}
