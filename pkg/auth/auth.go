package auth

import (
	"context"
)

const (
	XUserNameHeader = "X-User-Name"
	XUserRoleHeader = "X-User-Role"

	RoleMember = "Member"
	RoleAdmin  = "Admin"
)

type ctxKey string

const (
	userNameKey ctxKey = "user-name"
	userRoleKey ctxKey = "user-role"
)

func SetAuthContext(ctx context.Context, userName, userRole string) context.Context {
	ctx = context.WithValue(ctx, userNameKey, userName)
	return context.WithValue(ctx, userRoleKey, userRole)
}

func UserName(ctx context.Context) string {
	name, _ := ctx.Value(userNameKey).(string)
	return name
}

func UserRole(ctx context.Context) string {
	role, _ := ctx.Value(userRoleKey).(string)
	return role
}
