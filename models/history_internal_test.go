package models

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestCreateHistory_SnapshotErrorAbortsWrite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:history_internal?mode=memory&cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&History{}))

	err = db.WithContext(context.Background()).Transaction(func(tx *gorm.DB) error {
		return createHistory(tx, HistoryActionUpdate, 7, ReferenceTypeProduct, make(chan int), nil, "unmarshalable before")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history before snapshot of")

	err = db.Transaction(func(tx *gorm.DB) error {
		return createHistory(tx, HistoryActionUpdate, 7, ReferenceTypeProduct, nil, func() {}, "unmarshalable after")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history after snapshot of")

	var count int64
	require.NoError(t, db.Model(&History{}).Count(&count).Error)
	assert.Zero(t, count)

	// a nil snapshot stays empty rather than "null"
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return createHistory(tx, HistoryActionDelete, 7, ReferenceTypeProduct, nil, nil, "deleted")
	}))
	var row History
	require.NoError(t, db.First(&row).Error)
	assert.Empty(t, row.Before)
	assert.Empty(t, row.After)
}
