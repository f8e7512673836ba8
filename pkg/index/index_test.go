package index_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/blacklakehq/blacklake/pkg/index"
	"github.com/blacklakehq/blacklake/pkg/kv"
	_ "github.com/blacklakehq/blacklake/pkg/kv/mem"
	kvparams "github.com/blacklakehq/blacklake/pkg/kv/params"
	"github.com/blacklakehq/blacklake/pkg/logging"
	"github.com/blacklakehq/blacklake/pkg/validator"
	"github.com/go-test/deep"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func testIndex(t *testing.T) *index.Index {
	t.Helper()
	store, err := kv.Open(context.Background(), kvparams.KV{Type: "mem"})
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return index.New(store, logging.DummyLogger{})
}

func TestCreateRepo(t *testing.T) {
	ctx := context.Background()
	idx := testIndex(t)

	repo, err := idx.CreateRepo(ctx, "my-repo", "tester")
	require.NoError(t, err)
	require.NotEmpty(t, repo.ID)
	require.Equal(t, "my-repo", repo.Name)

	// second creation with the same name conflicts
	_, err = idx.CreateRepo(ctx, "my-repo", "tester")
	require.ErrorIs(t, err, index.ErrAlreadyExists)

	_, err = idx.CreateRepo(ctx, "-bad-name", "tester")
	require.ErrorIs(t, err, validator.ErrInvalidRepoName)

	got, err := idx.GetRepo(ctx, "my-repo")
	require.NoError(t, err)
	if diff := deep.Equal(repo, got); diff != nil {
		t.Errorf("repository read back differs: %v", diff)
	}

	_, err = idx.GetRepo(ctx, "missing")
	require.ErrorIs(t, err, index.ErrNotFound)
}

func TestListRepos(t *testing.T) {
	ctx := context.Background()
	idx := testIndex(t)

	for _, name := range []string{"zulu", "alpha", "mike"} {
		_, err := idx.CreateRepo(ctx, name, "tester")
		require.NoError(t, err)
	}
	repos, err := idx.ListRepos(ctx)
	require.NoError(t, err)
	var names []string
	for _, r := range repos {
		names = append(names, r.Name)
	}
	require.Equal(t, []string{"alpha", "mike", "zulu"}, names)
}

func TestUpsertObjectIdempotent(t *testing.T) {
	ctx := context.Background()
	idx := testIndex(t)

	const sha = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	first, err := idx.UpsertObject(ctx, sha, 1024, "text/csv", "s3://bucket/key")
	require.NoError(t, err)

	second, err := idx.UpsertObject(ctx, sha, 1024, "text/csv", "s3://bucket/key")
	require.NoError(t, err)
	require.Equal(t, first.SHA256, second.SHA256)
	require.Equal(t, first.Size, second.Size)

	got, err := idx.GetObject(ctx, sha)
	require.NoError(t, err)
	require.Equal(t, int64(1024), got.Size)
	require.Equal(t, "text/csv", got.MediaType)

	// metadata is last-write-wins for the same hash
	_, err = idx.UpsertObject(ctx, sha, 2048, "application/parquet", "s3://bucket/key2")
	require.NoError(t, err)
	got, err = idx.GetObject(ctx, sha)
	require.NoError(t, err)
	require.Equal(t, int64(2048), got.Size)
}

func TestCreateCommitExpectedParent(t *testing.T) {
	ctx := context.Background()
	idx := testIndex(t)
	repo, err := idx.CreateRepo(ctx, "repo", "tester")
	require.NoError(t, err)

	// first commit, branch does not exist yet
	c1, err := idx.CreateCommit(ctx, repo.ID, nil, "tester", "initial", nil)
	require.NoError(t, err)
	require.NoError(t, idx.AdvanceBranch(ctx, repo.ID, index.DefaultBranch, c1.ID, nil))

	// expected parent matches current head
	c2, err := idx.CreateCommit(ctx, repo.ID, &c1.ID, "tester", "second", &c1.ID)
	require.NoError(t, err)
	require.NoError(t, idx.AdvanceBranch(ctx, repo.ID, index.DefaultBranch, c2.ID, &c1.ID))

	// stale expected parent is a conflict
	_, err = idx.CreateCommit(ctx, repo.ID, &c1.ID, "tester", "stale", &c1.ID)
	require.ErrorIs(t, err, index.ErrParentMismatch)
	var pmErr *index.ParentMismatchError
	require.ErrorAs(t, err, &pmErr)
	require.Equal(t, c1.ID, pmErr.Expected)
	require.Equal(t, c2.ID, pmErr.Actual)
}

func TestBindEntries(t *testing.T) {
	ctx := context.Background()
	idx := testIndex(t)
	repo, err := idx.CreateRepo(ctx, "repo", "tester")
	require.NoError(t, err)
	commit, err := idx.CreateCommit(ctx, repo.ID, nil, "tester", "initial", nil)
	require.NoError(t, err)

	sha := "aa"
	changes := []index.Change{
		{Path: "b/data.csv", Op: index.ChangeOpAdd, ObjectSHA256: &sha},
		{Path: "/a/readme.md/", Op: index.ChangeOpAdd, ObjectSHA256: &sha},
		{Path: "a/old.csv", Op: index.ChangeOpDelete},
		{Path: "a", Op: index.ChangeOpAdd, IsDir: true},
	}
	require.NoError(t, idx.BindEntries(ctx, repo.ID, commit.ID, changes))

	entries, err := idx.GetTreeEntries(ctx, repo.ID, commit.ID, "")
	require.NoError(t, err)
	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	// deletes dropped, paths normalized, sorted for deterministic listing
	require.Equal(t, []string{"a", "a/readme.md", "b/data.csv"}, paths)

	filtered, err := idx.GetTreeEntries(ctx, repo.ID, commit.ID, "a/")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, "a/readme.md", filtered[0].Path)

	// rebinding replaces the whole set
	require.NoError(t, idx.BindEntries(ctx, repo.ID, commit.ID, changes[:1]))
	entries, err = idx.GetTreeEntries(ctx, repo.ID, commit.ID, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	err = idx.BindEntries(ctx, repo.ID, commit.ID, []index.Change{
		{Path: "a/../secret", Op: index.ChangeOpAdd},
	})
	require.ErrorIs(t, err, validator.ErrInvalidPath)

	err = idx.BindEntries(ctx, repo.ID, "no-such-commit", nil)
	require.ErrorIs(t, err, index.ErrNotFound)
}

func TestSetRefTag(t *testing.T) {
	ctx := context.Background()
	idx := testIndex(t)
	repo, err := idx.CreateRepo(ctx, "repo", "tester")
	require.NoError(t, err)
	commit, err := idx.CreateCommit(ctx, repo.ID, nil, "tester", "initial", nil)
	require.NoError(t, err)

	require.NoError(t, idx.SetRef(ctx, repo.ID, "v1.0", index.RefKindTag, commit.ID))
	ref, err := idx.GetRef(ctx, repo.ID, "v1.0")
	require.NoError(t, err)
	require.Equal(t, index.RefKindTag, ref.Kind)
	require.Equal(t, commit.ID, ref.CommitID)

	require.NoError(t, idx.DeleteRef(ctx, repo.ID, "v1.0"))
	_, err = idx.GetRef(ctx, repo.ID, "v1.0")
	require.ErrorIs(t, err, index.ErrNotFound)
}

func TestAdvanceBranchConcurrent(t *testing.T) {
	ctx := context.Background()
	idx := testIndex(t)
	repo, err := idx.CreateRepo(ctx, "repo", "tester")
	require.NoError(t, err)
	base, err := idx.CreateCommit(ctx, repo.ID, nil, "tester", "initial", nil)
	require.NoError(t, err)
	require.NoError(t, idx.AdvanceBranch(ctx, repo.ID, index.DefaultBranch, base.ID, nil))

	// two writers advance from the same expected parent, exactly one wins
	var wins, mismatches int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			commit, err := idx.CreateCommit(gctx, repo.ID, &base.ID, "tester", "contender", nil)
			if err != nil {
				return err
			}
			err = idx.AdvanceBranch(gctx, repo.ID, index.DefaultBranch, commit.ID, &base.ID)
			switch {
			case err == nil:
				atomic.AddInt64(&wins, 1)
			case index.IsParentMismatch(err):
				atomic.AddInt64(&mismatches, 1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.EqualValues(t, 1, wins)
	require.EqualValues(t, 1, mismatches)

	head, err := idx.GetRef(ctx, repo.ID, index.DefaultBranch)
	require.NoError(t, err)
	require.NotEqual(t, base.ID, head.CommitID)
}
