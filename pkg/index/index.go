package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/blacklakehq/blacklake/pkg/kv"
	"github.com/blacklakehq/blacklake/pkg/logging"
	"github.com/blacklakehq/blacklake/pkg/validator"
	"github.com/google/uuid"
)

// Index is the versioning core: repositories, content-addressed objects,
// immutable commits with tree snapshots, and mutable refs advanced with
// compare-and-set.
type Index struct {
	store kv.Store
	log   logging.Logger
}

func New(store kv.Store, log logging.Logger) *Index {
	return &Index{
		store: store,
		log:   log,
	}
}

// CreateRepo creates a repository with a unique name. A second creation with
// the same name fails with ErrAlreadyExists, never silently succeeds.
func (idx *Index) CreateRepo(ctx context.Context, name, createdBy string) (*Repository, error) {
	if err := validator.ValidateRepoName(name); err != nil {
		return nil, err
	}
	repo := &Repository{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
		CreatedBy: createdBy,
	}
	err := kv.SetObjectIf(ctx, idx.store, []byte(reposPartition), repoPath(name), repo, nil)
	if err != nil {
		if errors.Is(err, kv.ErrPredicateFailed) {
			return nil, fmt.Errorf("repository %s: %w", name, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("create repository %s: %w", name, err)
	}
	idx.log.WithContext(ctx).WithFields(logging.Fields{
		logging.RepositoryFieldKey: name,
		logging.ActorFieldKey:      createdBy,
	}).Info("repository created")
	return repo, nil
}

func (idx *Index) GetRepo(ctx context.Context, name string) (*Repository, error) {
	repo := &Repository{}
	_, err := kv.GetObject(ctx, idx.store, []byte(reposPartition), repoPath(name), repo)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", name, ErrRepositoryNotFound)
		}
		return nil, fmt.Errorf("get repository %s: %w", name, err)
	}
	return repo, nil
}

// ListRepos returns all repositories sorted by name.
func (idx *Index) ListRepos(ctx context.Context) ([]*Repository, error) {
	itr, err := kv.ScanPrefix(ctx, idx.store, []byte(reposPartition), []byte("repos/"),
		func() interface{} { return &Repository{} })
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer itr.Close()
	var repos []*Repository
	for itr.Next() {
		repos = append(repos, itr.Entry().Value.(*Repository))
	}
	if err := itr.Err(); err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	return repos, nil
}

// UpsertObject records content-addressed blob metadata. Re-inserting the same
// hash overwrites metadata, last write wins.
func (idx *Index) UpsertObject(ctx context.Context, sha256 string, size int64, mediaType, backingKey string) (*Object, error) {
	if sha256 == "" {
		return nil, fmt.Errorf("empty sha256: %w", validator.ErrRequiredValue)
	}
	obj := &Object{
		SHA256:     sha256,
		Size:       size,
		MediaType:  mediaType,
		BackingKey: backingKey,
		CreatedAt:  time.Now().UTC(),
	}
	if err := kv.SetObject(ctx, idx.store, []byte(objectsPartition), objectPath(sha256), obj); err != nil {
		return nil, fmt.Errorf("upsert object %s: %w", sha256, err)
	}
	return obj, nil
}

func (idx *Index) GetObject(ctx context.Context, sha256 string) (*Object, error) {
	obj := &Object{}
	_, err := kv.GetObject(ctx, idx.store, []byte(objectsPartition), objectPath(sha256), obj)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", sha256, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("get object %s: %w", sha256, err)
	}
	return obj, nil
}

// CreateCommit records a new immutable commit. When expectedParent is set the
// mainline head must match it, otherwise the caller raced another writer and
// gets a ParentMismatchError.
func (idx *Index) CreateCommit(ctx context.Context, repoID string, parentID *string, author, message string, expectedParent *string) (*Commit, error) {
	if expectedParent != nil {
		head, err := idx.GetRef(ctx, repoID, DefaultBranch)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		actual := ""
		if head != nil {
			actual = head.CommitID
		}
		if actual != *expectedParent {
			return nil, &ParentMismatchError{Expected: *expectedParent, Actual: actual}
		}
	}
	commit := &Commit{
		ID:        uuid.NewString(),
		RepoID:    repoID,
		ParentID:  parentID,
		Author:    author,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	// fresh random IDs never collide, the conditional write guards the
	// commit's immutability
	err := kv.SetObjectIf(ctx, idx.store, []byte(repoID), commitPath(commit.ID), commit, nil)
	if err != nil {
		return nil, fmt.Errorf("create commit %s: %w", commit.ID, err)
	}
	idx.log.WithContext(ctx).WithFields(logging.Fields{
		logging.RepositoryFieldKey: repoID,
		logging.CommitIDFieldKey:   commit.ID,
		logging.ActorFieldKey:      author,
	}).Debug("commit created")
	return commit, nil
}

func (idx *Index) GetCommit(ctx context.Context, repoID, commitID string) (*Commit, error) {
	commit := &Commit{}
	_, err := kv.GetObject(ctx, idx.store, []byte(repoID), commitPath(commitID), commit)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", commitID, ErrCommitNotFound)
		}
		return nil, fmt.Errorf("get commit %s: %w", commitID, err)
	}
	return commit, nil
}

// BindEntries writes the commit's full tree snapshot, replacing any prior
// set. The whole set is one value so the bind is all-or-nothing. Changes with
// op Delete contribute no entry.
func (idx *Index) BindEntries(ctx context.Context, repoID, commitID string, changes []Change) error {
	if _, err := idx.GetCommit(ctx, repoID, commitID); err != nil {
		return err
	}
	set := &entrySet{CommitID: commitID}
	for _, change := range changes {
		if change.Op == ChangeOpDelete {
			continue
		}
		path, err := validator.NormalizePath(change.Path)
		if err != nil {
			return err
		}
		set.Entries = append(set.Entries, Entry{
			CommitID:     commitID,
			Path:         path,
			ObjectSHA256: change.ObjectSHA256,
			Meta:         change.Meta,
			IsDir:        change.IsDir,
		})
	}
	sort.Slice(set.Entries, func(i, j int) bool {
		return set.Entries[i].Path < set.Entries[j].Path
	})
	if err := kv.SetObject(ctx, idx.store, []byte(repoID), entriesPath(commitID), set); err != nil {
		return fmt.Errorf("bind entries for commit %s: %w", commitID, err)
	}
	return nil
}

// GetTreeEntries returns the commit's snapshot, optionally filtered by path
// prefix, sorted by path.
func (idx *Index) GetTreeEntries(ctx context.Context, repoID, commitID, pathPrefix string) ([]Entry, error) {
	set := &entrySet{}
	_, err := kv.GetObject(ctx, idx.store, []byte(repoID), entriesPath(commitID), set)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			// a commit with no bound entries has an empty tree
			return nil, nil
		}
		return nil, fmt.Errorf("get entries for commit %s: %w", commitID, err)
	}
	if pathPrefix == "" {
		return set.Entries, nil
	}
	var entries []Entry
	for _, entry := range set.Entries {
		if strings.HasPrefix(entry.Path, pathPrefix) {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (idx *Index) GetRef(ctx context.Context, repoID, name string) (*Reference, error) {
	ref := &Reference{}
	_, err := kv.GetObject(ctx, idx.store, []byte(repoID), refPath(name), ref)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", name, ErrRefNotFound)
		}
		return nil, fmt.Errorf("get ref %s: %w", name, err)
	}
	return ref, nil
}

// SetRef upserts a ref without a concurrency check. Used for tags and for
// creating a branch's first head; branch advancement goes through
// AdvanceBranch.
func (idx *Index) SetRef(ctx context.Context, repoID, name string, kind RefKind, commitID string) error {
	ref := &Reference{
		RepoID:   repoID,
		Name:     name,
		Kind:     kind,
		CommitID: commitID,
	}
	if err := kv.SetObject(ctx, idx.store, []byte(repoID), refPath(name), ref); err != nil {
		return fmt.Errorf("set ref %s: %w", name, err)
	}
	return nil
}

// AdvanceBranch moves a branch head from expectedParent to newCommitID as a
// single compare-and-set against the stored ref. A nil expectedParent
// requires the branch to not exist yet. A lost race returns
// ParentMismatchError carrying the actual head.
func (idx *Index) AdvanceBranch(ctx context.Context, repoID, name, newCommitID string, expectedParent *string) error {
	newRef := &Reference{
		RepoID:   repoID,
		Name:     name,
		Kind:     RefKindBranch,
		CommitID: newCommitID,
	}
	var pred kv.Predicate
	if expectedParent != nil {
		ref := &Reference{}
		p, err := kv.GetObject(ctx, idx.store, []byte(repoID), refPath(name), ref)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				return &ParentMismatchError{Expected: *expectedParent, Actual: ""}
			}
			return fmt.Errorf("get ref %s: %w", name, err)
		}
		if ref.CommitID != *expectedParent {
			return &ParentMismatchError{Expected: *expectedParent, Actual: ref.CommitID}
		}
		pred = p
	}
	err := kv.SetObjectIf(ctx, idx.store, []byte(repoID), refPath(name), newRef, pred)
	if err != nil {
		if errors.Is(err, kv.ErrPredicateFailed) {
			return idx.parentMismatch(ctx, repoID, name, expectedParent)
		}
		return fmt.Errorf("advance %s: %w", name, err)
	}
	idx.log.WithContext(ctx).WithFields(logging.Fields{
		logging.RepositoryFieldKey: repoID,
		logging.RefFieldKey:        name,
		logging.CommitIDFieldKey:   newCommitID,
	}).Debug("branch advanced")
	return nil
}

func (idx *Index) parentMismatch(ctx context.Context, repoID, name string, expectedParent *string) error {
	expected := ""
	if expectedParent != nil {
		expected = *expectedParent
	}
	actual := ""
	if head, err := idx.GetRef(ctx, repoID, name); err == nil {
		actual = head.CommitID
	}
	return &ParentMismatchError{Expected: expected, Actual: actual}
}

func (idx *Index) DeleteRef(ctx context.Context, repoID, name string) error {
	if err := idx.store.Delete(ctx, []byte(repoID), refPath(name)); err != nil {
		return fmt.Errorf("delete ref %s: %w", name, err)
	}
	return nil
}
