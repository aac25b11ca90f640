package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchemaValidator_MigratedDatabase(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	req.NoError(NewMigrationManager(db, Migrations()).ApplyMigrations())

	validator := NewSchemaValidator(db)
	req.NoError(validator.ValidateTablesExist())
	req.NoError(validator.ValidateTableStructure())
	req.NoError(validator.ValidateIndexes())
	req.NoError(validator.ValidateConstraints())
}

func TestSchemaValidator_EmptyDatabase(t *testing.T) {
	req := require.New(t)
	validator := NewSchemaValidator(openTestDB(t))

	err := validator.ValidateTablesExist()
	req.Error(err)
	req.Contains(err.Error(), "does not exist")
	req.Error(validator.ValidateIndexes())
}

func TestSchemaValidator_WrongColumnType(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	_, err := db.Exec(`
		CREATE TABLE users (id INTEGER, email TEXT, name TEXT, is_admin BOOLEAN, created_at DATETIME);
		CREATE TABLE messages (id TEXT, content TEXT, sender_id INTEGER, receiver_id INTEGER, created_at DATETIME);
	`)
	req.NoError(err)

	err = NewSchemaValidator(db).ValidateTableStructure()
	req.Error(err)
	req.Contains(err.Error(), "messages table structure invalid")
}

func TestSchemaValidator_MissingContentCheck(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	_, err := db.Exec(`CREATE TABLE messages (id INTEGER PRIMARY KEY, content TEXT NOT NULL, sender_id INTEGER, receiver_id INTEGER, created_at DATETIME)`)
	req.NoError(err)

	err = NewSchemaValidator(db).ValidateConstraints()
	req.Error(err)
	req.Contains(err.Error(), "check constraint missing")
}

func TestSchemaValidator_ConstraintsCheckWritesNothing(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	req.NoError(NewMigrationManager(db, Migrations()).ApplyMigrations())
	req.NoError(NewMigrationManager(db, Migrations()).ValidateSchema())

	var count int
	req.NoError(db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count))
	req.Zero(count)
}
