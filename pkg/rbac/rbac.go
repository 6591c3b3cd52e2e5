package rbac

// 权限常量
const (
	PermissionCreateNotification = "notification:create"
	PermissionReadNotification   = "notification:read"
	PermissionCancelNotification = "notification:cancel"
	PermissionRunConsolidation   = "consolidation:run"
	PermissionReadMonitoring     = "monitoring:read"
	PermissionWriteContact       = "contact:write"
)

// 角色常量
const (
	// RoleProducer 上游编排引擎（只负责入队）
	RoleProducer = "producer"
	// RoleOperator 运维人员
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleProducer: {
		PermissionCreateNotification,
		PermissionReadNotification,
	},
	RoleOperator: {
		PermissionReadNotification,
		PermissionReadMonitoring,
		PermissionCancelNotification,
		PermissionWriteContact,
	},
	RoleAdmin: {
		PermissionCreateNotification,
		PermissionReadNotification,
		PermissionCancelNotification,
		PermissionRunConsolidation,
		PermissionReadMonitoring,
		PermissionWriteContact,
	},
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role string, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查角色是否有指定权限（返回错误而不是布尔值，便于处理）
func CheckPermission(subject, role string, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			Subject:    subject,
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	Subject    string
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions: " + e.Permission
}
