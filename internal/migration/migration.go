package migration

import (
	"errors"

	"gorm.io/gorm"

	auditdomain "github.com/kirimaja/kirimaja/internal/audit/domain"
	invoicedomain "github.com/kirimaja/kirimaja/internal/invoice/domain"
	ledgerdomain "github.com/kirimaja/kirimaja/internal/ledger/domain"
	messagedomain "github.com/kirimaja/kirimaja/internal/message/domain"
	recondomain "github.com/kirimaja/kirimaja/internal/reconciliation/domain"
	webhookdomain "github.com/kirimaja/kirimaja/internal/webhook/domain"
)

// RunMigrations creates or updates every table the service owns. The schema
// is additive; columns are never dropped here.
func RunMigrations(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}

	return conn.AutoMigrate(
		&messagedomain.MessageLog{},
		&messagedomain.MessageEvent{},
		&messagedomain.Campaign{},
		&webhookdomain.WebhookReceipt{},
		&ledgerdomain.LedgerEntry{},
		&invoicedomain.Invoice{},
		&recondomain.ReconciliationReport{},
		&recondomain.ReconciliationAnomaly{},
		&auditdomain.AuditLog{},
	)
}
