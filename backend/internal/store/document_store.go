package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DocumentStore struct{ db *gorm.DB }

func NewDocumentStore(db *gorm.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// CurrentVersion returns found=false for a document that has never been saved.
func (s *DocumentStore) CurrentVersion(ctx context.Context, documentID string) (int64, bool, error) {
	var doc Document
	err := s.db.WithContext(ctx).Select("id", "version").Where("id = ?", documentID).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return doc.Version, true, nil
}

// RecordChange archives one change and raises documents.version to at least
// change.Version. Redelivered changes are accepted without a second row.
// It returns the document's version after the write.
func (s *DocumentStore) RecordChange(ctx context.Context, change DocumentChange) (int64, error) {
	var version int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&change).Error; err != nil {
			if !isDuplicateKey(err) {
				return fmt.Errorf("insert document change: %w", err)
			}
		}

		doc := Document{
			ID:          change.DocumentID,
			WorkspaceID: change.WorkspaceID,
			Version:     change.Version,
			UpdatedBy:   change.UserID,
		}
		// 版本号只增不减
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"version":    gorm.Expr("GREATEST(version, ?)", change.Version),
				"updated_by": change.UserID,
				"updated_at": gorm.Expr("NOW(3)"),
			}),
		}).Create(&doc).Error
		if err != nil {
			return fmt.Errorf("upsert document: %w", err)
		}

		var cur Document
		if err := tx.Select("version").Where("id = ?", change.DocumentID).First(&cur).Error; err != nil {
			return err
		}
		version = cur.Version
		return nil
	})
	return version, err
}

// 1062 = duplicate key
func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
