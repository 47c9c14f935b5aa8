package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tfdgestao/relatorios/internal/models"
)

func TestOpen_CreatesDirectoryAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "test.db")

	db, err := Open(path)
	require.NoError(t, err)
	defer Close(db)

	for _, m := range []interface{}{
		&models.ReportSchedule{},
		&models.User{},
		&models.Municipality{},
		&models.TripRequest{},
		&models.AccessLog{},
	} {
		assert.True(t, db.Migrator().HasTable(m), "missing table for %T", m)
	}
}

func TestClose_Nil(t *testing.T) {
	assert.NoError(t, Close(nil))
}

func TestOpen_StoresTimestampsInUTC(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "utc.db"))
	require.NoError(t, err)
	defer Close(db)

	assert.Equal(t, time.UTC, db.NowFunc().Location())

	entry := models.AccessLog{Method: "GET", Path: "/healthz", Status: 200}
	require.NoError(t, db.Create(&entry).Error)
	assert.Equal(t, time.UTC, entry.CreatedAt.Location())

	local := time.Date(2024, 3, 15, 9, 0, 0, 0, time.FixedZone("-03", -3*60*60))
	trip := models.TripRequest{PatientName: "Rita", TravelDate: local}
	require.NoError(t, db.Create(&trip).Error)
	assert.Equal(t, time.UTC, trip.TravelDate.Location())
	assert.True(t, trip.TravelDate.Equal(local))
}
