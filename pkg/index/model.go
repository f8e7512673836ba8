package index

import (
	"time"

	"github.com/blacklakehq/blacklake/pkg/kv"
)

type RefKind string

const (
	RefKindBranch RefKind = "branch"
	RefKindTag    RefKind = "tag"
)

// DefaultBranch is the mainline ref expected_parent is resolved against.
const DefaultBranch = "main"

type ChangeOp string

const (
	ChangeOpAdd    ChangeOp = "add"
	ChangeOpModify ChangeOp = "modify"
	ChangeOpDelete ChangeOp = "delete"
)

type Repository struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
}

// Object is immutable blob metadata addressed by the content hash. BackingKey
// is an opaque locator owned by the blob storage client.
type Object struct {
	SHA256     string    `json:"sha256"`
	Size       int64     `json:"size"`
	MediaType  string    `json:"media_type"`
	BackingKey string    `json:"backing_key"`
	CreatedAt  time.Time `json:"created_at"`
}

type CommitStats struct {
	FileCount  int   `json:"file_count"`
	TotalBytes int64 `json:"total_bytes"`
}

// Commit is immutable once created. ParentID is nil only for the first
// commit of a repository.
type Commit struct {
	ID        string      `json:"id"`
	RepoID    string      `json:"repo_id"`
	ParentID  *string     `json:"parent_id,omitempty"`
	Author    string      `json:"author"`
	Message   string      `json:"message"`
	CreatedAt time.Time   `json:"created_at"`
	Stats     CommitStats `json:"stats"`
}

// Entry binds a path to an object within a commit's tree snapshot.
// ObjectSHA256 is nil for directory markers.
type Entry struct {
	CommitID     string                 `json:"commit_id"`
	Path         string                 `json:"path"`
	ObjectSHA256 *string                `json:"object_sha256,omitempty"`
	Meta         map[string]interface{} `json:"meta,omitempty"`
	IsDir        bool                   `json:"is_dir"`
}

// entrySet is the full tree snapshot of one commit, stored as a single KV
// value so binding is atomic.
type entrySet struct {
	CommitID string  `json:"commit_id"`
	Entries  []Entry `json:"entries"`
}

type Reference struct {
	RepoID   string  `json:"repo_id"`
	Name     string  `json:"name"`
	Kind     RefKind `json:"kind"`
	CommitID string  `json:"commit_id"`
}

// Change is a single tree mutation applied when binding entries to a commit.
type Change struct {
	Path         string                 `json:"path"`
	Op           ChangeOp               `json:"op"`
	ObjectSHA256 *string                `json:"object_sha256,omitempty"`
	Meta         map[string]interface{} `json:"meta,omitempty"`
	IsDir        bool                   `json:"is_dir"`
}

const (
	reposPartition   = "repos"
	objectsPartition = "objects"
)

func repoPath(name string) []byte {
	return []byte(kv.FormatPath("repos", name))
}

func objectPath(sha256 string) []byte {
	return []byte(kv.FormatPath("objects", sha256))
}

func commitPath(commitID string) []byte {
	return []byte(kv.FormatPath("commits", commitID))
}

func entriesPath(commitID string) []byte {
	return []byte(kv.FormatPath("entries", commitID))
}

func refPath(name string) []byte {
	return []byte(kv.FormatPath("refs", name))
}
