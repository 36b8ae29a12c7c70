package models

type PaymentMethod string

const (
	PaymentMethodCash  PaymentMethod = "Cash"
	PaymentMethodCheck PaymentMethod = "Check"
)

type SalesInvoiceStatus string

const (
	SalesInvoiceStatusDraft     SalesInvoiceStatus = "Draft"
	SalesInvoiceStatusCompleted SalesInvoiceStatus = "Completed"
)

type PrescriptionStatus string

const (
	PrescriptionStatusPendingVerification PrescriptionStatus = "Pending Verification"
	PrescriptionStatusVerified            PrescriptionStatus = "Verified"
)

type AuditActionType string

const (
	AuditActionReceiveStock AuditActionType = "RECEIVE_STOCK"
	AuditActionAdjustStock  AuditActionType = "ADJUST_STOCK"
	AuditActionCheckout     AuditActionType = "CHECKOUT"
)
