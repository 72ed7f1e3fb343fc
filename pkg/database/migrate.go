package database

import (
	gormigrate "github.com/go-gormigrate/gormigrate/v2"
	"github.com/relaypoint/filebroker/pkg/models"
	"gorm.io/gorm"
)

var (
	migrations = []*gormigrate.Migration{
		// create transfer tables
		{
			ID: "202608010000",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(
					models.FileTransfer{},
					models.TransferRecipient{},
					models.TransferProperty{},
					models.FileTransferStatus{},
					models.ActorStatus{},
				)
			},
			Rollback: func(tx *gorm.DB) (err error) {
				for _, table := range []string{
					"file_transfers", "transfer_recipients", "transfer_properties",
					"file_transfer_statuses", "actor_statuses",
				} {
					if err = tx.Migrator().DropTable(table); err != nil {
						return
					}
				}
				return
			},
		},
		// create policy, job and marker tables
		{
			ID: "202608010001",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(
					models.Resource{},
					models.ServiceOwner{},
					models.Job{},
					models.EventMarker{},
				)
			},
			Rollback: func(tx *gorm.DB) (err error) {
				for _, table := range []string{
					"resources", "service_owners", "jobs", "event_markers",
				} {
					if err = tx.Migrator().DropTable(table); err != nil {
						return
					}
				}
				return
			},
		},
		// terminal statuses may be appended only once per transfer. This is
		// the serialization point for concurrent confirmations racing the
		// AllConfirmedDownloaded transition.
		{
			ID: "202608010002",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(`
					CREATE UNIQUE INDEX idx_transfer_status_once
					ON file_transfer_statuses(transfer_id, status)
					WHERE status IN ('AllConfirmedDownloaded', 'Purged', 'Cancelled')`,
				).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec(`DROP INDEX idx_transfer_status_once`).Error
			},
		},
		// blob storage for the database-backed provider
		{
			ID: "202608010003",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(models.Blob{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("blobs")
			},
		},
	}
)

func migrator(db *gorm.DB) *gormigrate.Gormigrate {
	return gormigrate.New(db, gormigrate.DefaultOptions, migrations)
}

func Migrate(db *gorm.DB) error {
	return migrator(db).Migrate()
}
