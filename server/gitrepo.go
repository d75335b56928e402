package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// RepoCommit is the slice of a git commit the analytics care about.
// Timestamps are epoch seconds; AuthorTime is -1 when the commit
// carries no usable author stamp. ParentTimes holds the effective
// (author-preferred) timestamps of each parent.
type RepoCommit struct {
	Hash         string
	CommitTime   int64
	AuthorTime   int64
	ParentCount  int
	ParentTimes  []int64
	ChangedLines int
}

// EffectiveTime prefers the author timestamp over the commit
// timestamp. Author dates survive rebases and cherry-picks, which is
// exactly the history manipulation being watched for.
func (rc *RepoCommit) EffectiveTime() int64 {
	if rc.AuthorTime >= 0 {
		return rc.AuthorTime
	}
	return rc.CommitTime
}

type gitRepo struct {
	repo *git.Repository
}

// cloneRepo clones a student repo into dir. The context carries the
// external-tool timeout; a hung clone fails the job rather than
// wedging a worker.
func cloneRepo(ctx context.Context, repoURL, dir string) (*gitRepo, error) {
	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{URL: repoURL})
	if err != nil {
		return nil, fmt.Errorf("failed to clone repo: %v", err)
	}
	return &gitRepo{repo: repo}, nil
}

func (g *gitRepo) HeadHash() (string, error) {
	ref, err := g.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to get head hash: %v", err)
	}
	return ref.Hash().String(), nil
}

// CommitTime returns the commit timestamp of a hash, or an error when
// the object is unknown (garbage collected after a rebase, usually).
func (g *gitRepo) CommitTime(hash string) (time.Time, error) {
	commit, err := g.repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return time.Time{}, err
	}
	return commit.Committer.When, nil
}

// LogBetween walks the history from headHash back to (and excluding)
// tailHash, newest first. When tailHash is empty the full ancestry is
// returned. When tailHash names a commit that no longer exists, the
// full ancestry is returned and missingTail is reported true.
func (g *gitRepo) LogBetween(headHash, tailHash string) (commits []*RepoCommit, missingTail bool, err error) {
	if headHash == "" {
		return nil, false, fmt.Errorf("head hash is required")
	}
	head, err := g.repo.CommitObject(plumbing.NewHash(headHash))
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve head %s: %v", headHash, err)
	}

	var ignore []plumbing.Hash
	if tailHash != "" {
		if _, err := g.repo.CommitObject(plumbing.NewHash(tailHash)); err != nil {
			missingTail = true
		} else {
			ignore = append(ignore, plumbing.NewHash(tailHash))
		}
	}

	iter := object.NewCommitPreorderIter(head, nil, ignore)
	err = iter.ForEach(func(commit *object.Commit) error {
		rc, err := g.describeCommit(commit)
		if err != nil {
			return err
		}
		commits = append(commits, rc)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to walk commits: %v", err)
	}
	return commits, missingTail, nil
}

func (g *gitRepo) describeCommit(commit *object.Commit) (*RepoCommit, error) {
	rc := &RepoCommit{
		Hash:        commit.Hash.String(),
		CommitTime:  commit.Committer.When.Unix(),
		AuthorTime:  -1,
		ParentCount: commit.NumParents(),
	}
	if !commit.Author.When.IsZero() {
		rc.AuthorTime = commit.Author.When.Unix()
	}

	for _, parentHash := range commit.ParentHashes {
		parent, err := g.repo.CommitObject(parentHash)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve parent %s: %v", parentHash, err)
		}
		stamp := parent.Committer.When.Unix()
		if !parent.Author.When.IsZero() {
			stamp = parent.Author.When.Unix()
		}
		rc.ParentTimes = append(rc.ParentTimes, stamp)
	}

	// Merge commits are never measured for size.
	if rc.ParentCount <= 1 {
		changed, err := g.changedLines(commit)
		if err != nil {
			return nil, err
		}
		rc.ChangedLines = changed
	}
	return rc, nil
}

// changedLines counts the lines changed by a commit against its first
// parent, ignoring whitespace-only edits. Root commits count every
// non-blank line they introduce.
func (g *gitRepo) changedLines(commit *object.Commit) (int, error) {
	commitTree, err := commit.Tree()
	if err != nil {
		return 0, err
	}

	if commit.NumParents() == 0 {
		total := 0
		err := commitTree.Files().ForEach(func(f *object.File) error {
			if binary, err := f.IsBinary(); err != nil || binary {
				return nil
			}
			contents, err := f.Contents()
			if err != nil {
				return nil
			}
			total += countNonBlankLines(contents)
			return nil
		})
		return total, err
	}

	parent, err := commit.Parent(0)
	if err != nil {
		return 0, err
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return 0, err
	}

	changes, err := object.DiffTree(parentTree, commitTree)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, change := range changes {
		from, to, err := change.Files()
		if err != nil {
			continue
		}
		var fromText, toText string
		if from != nil {
			if binary, err := from.IsBinary(); err == nil && !binary {
				fromText, _ = from.Contents()
			}
		}
		if to != nil {
			if binary, err := to.IsBinary(); err == nil && !binary {
				toText, _ = to.Contents()
			}
		}
		total += diffLineCount(fromText, toText)
	}
	return total, nil
}

// diffLineCount runs a line-mode diff over whitespace-normalized text
// and counts inserted plus deleted lines. Normalizing first means a
// change that only reflows whitespace counts for nothing.
func diffLineCount(before, after string) int {
	before = normalizeWhitespace(before)
	after = normalizeWhitespace(after)
	if before == after {
		return 0
	}

	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(beforeChars, afterChars, false), lines)

	count := 0
	for _, diff := range diffs {
		if diff.Type == diffmatchpatch.DiffEqual {
			continue
		}
		for _, line := range strings.Split(diff.Text, "\n") {
			if strings.TrimSpace(line) != "" {
				count++
			}
		}
	}
	return count
}

func normalizeWhitespace(text string) string {
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		b.WriteString(strings.Join(strings.Fields(line), " "))
		b.WriteByte('\n')
	}
	return b.String()
}

func countNonBlankLines(text string) int {
	count := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count
}
