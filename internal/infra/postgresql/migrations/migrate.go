package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/outboundlab/sequencer/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_campaigns",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.CampaignModel{}, &repository.SequenceStepModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_steps_campaign_sequence ON sequence_steps (campaign_id, sequence_number)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.SequenceStepModel{}, &repository.CampaignModel{})
			},
		},
		{
			ID: "000002_create_leads",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.LeadModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_email ON leads (LOWER(email))`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.LeadModel{})
			},
		},
		{
			ID: "000003_create_lead_enrollments",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.LeadEnrollmentModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_enrollments_campaign_lead ON lead_enrollments (campaign_id, lead_id)`,
					`CREATE INDEX IF NOT EXISTS idx_enrollments_lead_status ON lead_enrollments (lead_id, status)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.LeadEnrollmentModel{})
			},
		},
		{
			ID: "000004_create_schedule_queue_items",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.ScheduleQueueItemModel{}); err != nil {
					return err
				}
				indexes := []string{
					// Due scan: pending items ordered by due time.
					`CREATE INDEX IF NOT EXISTS idx_queue_due ON schedule_queue_items (scheduled_for, created_at) WHERE status = 'pending'`,
					// At most one open item per enrollment.
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_one_open_per_enrollment ON schedule_queue_items (enrollment_id) WHERE status IN ('pending', 'scheduled')`,
					`CREATE INDEX IF NOT EXISTS idx_queue_enrollment ON schedule_queue_items (enrollment_id)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.ScheduleQueueItemModel{})
			},
		},
		{
			ID: "000005_create_suppression_entries",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.SuppressionEntryModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_suppression_email ON suppression_entries (email)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.SuppressionEntryModel{})
			},
		},
		{
			ID: "000006_create_engagement_events",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.EngagementEventModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_events_campaign_lead_type ON engagement_events (campaign_id, lead_id, event_type, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_events_enrollment_step ON engagement_events (enrollment_id, step_id, event_type)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.EngagementEventModel{})
			},
		},
	})

	return m.Migrate()
}
