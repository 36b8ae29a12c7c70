package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/pharmacy_backend/appctx"
)

var (
	ContextKeyToken         = appctx.ContextKeyToken
	ContextKeyEmployeeId    = appctx.ContextKeyEmployeeId
	ContextKeyEmployeeName  = appctx.ContextKeyEmployeeName
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
)

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyToken)
}

func GetEmployeeIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyEmployeeId)
}

func GetEmployeeNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyEmployeeName)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, ContextKeyToken, token)
}

func SetEmployeeIdInContext(ctx context.Context, employeeId int) context.Context {
	return appctx.Set(ctx, ContextKeyEmployeeId, employeeId)
}

func SetEmployeeNameInContext(ctx context.Context, employeeName string) context.Context {
	return appctx.Set(ctx, ContextKeyEmployeeName, employeeName)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}
