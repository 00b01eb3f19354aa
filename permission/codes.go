package permission

// Built-in role codes of the forum platform.
const (
	RoleUser       = "USER"
	RoleModerator  = "MODERATOR"
	RoleAdmin      = "ADMIN"
	RoleSuperAdmin = "SUPER_ADMIN"
)

// Permission codes used by the platform's management surfaces.
const (
	PermUserManage       = "user:manage"
	PermRoleManage       = "role:manage"
	PermPermissionManage = "permission:manage"
	PermForumManage      = "forum:manage"
	PermPostManage       = "post:manage"
	PermCommentManage    = "comment:manage"
	PermSystemConfig     = "system:config"
	PermSystemMonitor    = "system:monitor"
)
