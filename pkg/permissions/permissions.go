package permissions

import "fmt"

// Permission is a single action requirement checked against a resource.
type Permission struct {
	Action   string
	Resource string
}

const All = "*"

// RepoResource formats the resource string for a whole repository.
func RepoResource(repoID string) string {
	return fmt.Sprintf("repo/%s", repoID)
}

// RefResource formats the resource string for a ref within a repository.
func RefResource(repoID, refName string) string {
	return fmt.Sprintf("repo/%s/refs/%s", repoID, refName)
}

// PathResource formats the resource string for a path within a repository.
func PathResource(repoID, path string) string {
	return fmt.Sprintf("repo/%s/paths/%s", repoID, path)
}
