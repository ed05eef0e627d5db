package session

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("session: database handle is required")

// StoredField is one persisted session field.
type StoredField struct {
	Name             string `gorm:"column:name;primaryKey;size:64;not null"`
	Value            string `gorm:"column:value;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (StoredField) TableName() string {
	return "session_fields"
}

// GormKeyValue stores fields as rows of the session_fields table.
type GormKeyValue struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewGormKeyValue wraps an already migrated database handle.
func NewGormKeyValue(db *gorm.DB, clock func() time.Time) (*GormKeyValue, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if clock == nil {
		clock = time.Now
	}
	return &GormKeyValue{db: db, clock: clock}, nil
}

// NewGormStore returns a Store persisting into db.
func NewGormStore(db *gorm.DB) (*FieldStore, error) {
	kv, err := NewGormKeyValue(db, nil)
	if err != nil {
		return nil, err
	}
	return NewFieldStore(kv)
}

func (g *GormKeyValue) Get(ctx context.Context, keys []string) (map[string]string, error) {
	var rows []StoredField
	if err := g.db.WithContext(ctx).Where("name IN ?", keys).Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make(map[string]string, len(rows))
	for _, row := range rows {
		result[row.Name] = row.Value
	}
	return result, nil
}

func (g *GormKeyValue) Put(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return g.upsert(tx, values)
	})
}

func (g *GormKeyValue) PutIf(ctx context.Context, guardKey, guardValue string, values map[string]string) (bool, error) {
	return g.guarded(ctx, guardKey, guardValue, func(tx *gorm.DB) error {
		return g.upsert(tx, values)
	})
}

func (g *GormKeyValue) DeleteAll(ctx context.Context) error {
	return deleteAllRows(g.db.WithContext(ctx))
}

func (g *GormKeyValue) DeleteAllIf(ctx context.Context, guardKey, guardValue string) (bool, error) {
	return g.guarded(ctx, guardKey, guardValue, deleteAllRows)
}

// guarded runs apply in the transaction that read the guard row.
func (g *GormKeyValue) guarded(ctx context.Context, guardKey, guardValue string, apply func(tx *gorm.DB) error) (bool, error) {
	applied := false
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var guard StoredField
		result := tx.Where("name = ?", guardKey).Limit(1).Find(&guard)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 || guard.Value != guardValue {
			return nil
		}
		if err := apply(tx); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (g *GormKeyValue) upsert(tx *gorm.DB, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	now := g.clock().UTC().Unix()
	rows := make([]StoredField, 0, len(values))
	for name, value := range values {
		rows = append(rows, StoredField{Name: name, Value: value, UpdatedAtSeconds: now})
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at_s"}),
	}).Create(&rows).Error
}

func deleteAllRows(tx *gorm.DB) error {
	return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&StoredField{}).Error
}
