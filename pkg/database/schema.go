package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks a SQLite database against the expected schema
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range []string{"live_classes", "chat_messages", "schema_migrations"} {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateTableStructure verifies column names and declared types
func (v *SchemaValidator) ValidateTableStructure() error {
	classColumns := map[string]string{
		"id":           "TEXT",
		"title":        "TEXT",
		"host_id":      "TEXT",
		"audience_ids": "TEXT",
		"status":       "TEXT",
		"started_at":   "DATETIME",
		"ended_at":     "DATETIME",
	}
	if err := v.validateColumns("live_classes", classColumns); err != nil {
		return fmt.Errorf("live_classes table structure invalid: %w", err)
	}

	chatColumns := map[string]string{
		"id":                   "TEXT",
		"room_id":              "TEXT",
		"sender_connection_id": "TEXT",
		"sender_user_id":       "TEXT",
		"sender_name":          "TEXT",
		"text":                 "TEXT",
		"type":                 "TEXT",
		"sent_at":              "DATETIME",
	}
	if err := v.validateColumns("chat_messages", chatColumns); err != nil {
		return fmt.Errorf("chat_messages table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies the lookup indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range []string{"idx_live_classes_status", "idx_live_classes_host", "idx_chat_messages_room_time"} {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?", kind, name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(table string, expected map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, dataType   string
			defaultValue     any
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for col, typ := range expected {
		got, ok := found[col]
		if !ok {
			return fmt.Errorf("column %s not found", col)
		}
		if got != typ {
			return fmt.Errorf("column %s has type %s, expected %s", col, got, typ)
		}
	}
	return nil
}
