package store

import "time"

// CurrentSchemaVersion is bumped whenever a model below changes shape.
// v1: reference_datasets, sessions. v2: sessions.terminated_at, sessions.last_path.
const CurrentSchemaVersion = 2

// DatasetModel is the GORM model for the reference_datasets collection
type DatasetModel struct {
	TemplateID string    `gorm:"primaryKey"`
	Payload    []byte    `gorm:"not null"`
	CachedAt   time.Time `gorm:"not null;index:idx_dataset_cached_at"`
	Metadata   string    `gorm:"not null;default:'{}'"`
	UpdatedAt  time.Time
}

// TableName specifies the table name for GORM
func (DatasetModel) TableName() string { return "reference_datasets" }

// SessionModel is the GORM model for the sessions collection.
// Progress holds the nested progress/interaction tree as JSON.
type SessionModel struct {
	ID           string     `gorm:"primaryKey"`
	TemplateID   string     `gorm:"not null;index:idx_session_template"`
	FlowType     string     `gorm:"not null;check:flow_type IN ('checkin','checkout')"`
	Status       string     `gorm:"not null;default:'active';index:idx_session_status;check:status IN ('active','completed','terminated')"`
	LastPath     string     `gorm:"not null;default:''"`
	Progress     string     `gorm:"not null;default:'{}'"`
	CreatedAt    time.Time  `gorm:"not null"`
	LastActiveAt time.Time  `gorm:"not null;index:idx_session_last_active"`
	CompletedAt  *time.Time `gorm:"default:null"`
	TerminatedAt *time.Time `gorm:"default:null"`
}

// TableName specifies the table name for GORM
func (SessionModel) TableName() string { return "sessions" }

// SchemaVersionModel records each applied schema version
type SchemaVersionModel struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	AppliedAt time.Time `gorm:"not null"`
}

// TableName specifies the table name for GORM
func (SchemaVersionModel) TableName() string { return "schema_versions" }
