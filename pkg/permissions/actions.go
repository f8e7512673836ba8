package permissions

const (
	ReadRepositoryAction   = "repo:ReadRepository"
	CreateRepositoryAction = "repo:CreateRepository"
	DeleteRepositoryAction = "repo:DeleteRepository"
	ListRepositoriesAction = "repo:ListRepositories"

	ReadObjectAction   = "repo:ReadObject"
	WriteObjectAction  = "repo:WriteObject"
	DeleteObjectAction = "repo:DeleteObject"

	CreateCommitAction = "repo:CreateCommit"
	ReadCommitAction   = "repo:ReadCommit"

	ReadRefAction   = "repo:ReadRef"
	WriteRefAction  = "repo:WriteRef"
	DeleteRefAction = "repo:DeleteRef"

	ManageProtectionAction = "governance:ManageProtection"
	BypassProtectionAction = "governance:BypassProtection"
	ManageQuotaAction      = "governance:ManageQuota"

	ManageLegalHoldAction = "compliance:ManageLegalHold"
	ReadAuditLogAction    = "compliance:ReadAuditLog"
)
