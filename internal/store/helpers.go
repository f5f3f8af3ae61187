package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/DialogPipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const sessionColumns = `conversation_key, flow_id, step, awaiting, retry_count, last_flow_id, variables, created_at, updated_at`

// scanSession scans one sessions row.
func scanSession(row rowScanner) (*models.Session, error) {
	var (
		sess          models.Session
		flowID, last  sql.NullString
		variablesJSON string
	)
	err := row.Scan(&sess.Key, &flowID, &sess.Cursor.Step, &sess.Cursor.Awaiting, &sess.RetryCount,
		&last, &variablesJSON, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sess.Cursor.FlowID = flowID.String
	sess.LastFlowID = last.String
	sess.Variables = make(map[string]any)
	if variablesJSON != "" {
		if err := json.Unmarshal([]byte(variablesJSON), &sess.Variables); err != nil {
			return nil, fmt.Errorf("failed to decode session variables for %s: %w", sess.Key, err)
		}
	}
	return &sess, nil
}

// encodeVariables serializes session variables for storage.
func encodeVariables(sess *models.Session) (string, error) {
	if len(sess.Variables) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(sess.Variables)
	if err != nil {
		return "", fmt.Errorf("failed to encode session variables for %s: %w", sess.Key, err)
	}
	return string(b), nil
}
