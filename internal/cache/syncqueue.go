package cache

import (
	"time"

	"github.com/inboxd/inboxd/internal/model"
)

// EnqueueOperation persists a new pending sync operation.
func (s *Store) EnqueueOperation(op model.SyncOperation) error {
	now := time.Now().UnixMilli()
	createdAt := op.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}
	_, err := s.Exec(`
		INSERT INTO sync_queue (id, kind, payload, status, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', ?, ?)`,
		op.ID, string(op.Kind), string(op.Payload), createdAt, now)
	return err
}

// PendingOperations returns operations awaiting delivery in creation order.
// Failed operations are included: they are retried on the next pass, not
// discarded, until retention cleanup removes them.
func (s *Store) PendingOperations() ([]model.SyncOperation, error) {
	rows, err := s.Query(`
		SELECT id, kind, payload, status, error, created_at, updated_at
		FROM sync_queue
		WHERE status IN ('pending', 'failed')
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ops []model.SyncOperation
	for rows.Next() {
		var op model.SyncOperation
		var kind, payload, status string
		if err := rows.Scan(&op.ID, &kind, &payload, &status, &op.Error, &op.CreatedAt, &op.UpdatedAt); err != nil {
			return nil, err
		}
		op.Kind = model.OperationKind(kind)
		op.Payload = []byte(payload)
		op.Status = model.OperationStatus(status)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// MarkCompleted records confirmed delivery of an operation. Idempotent: a
// second call is a no-op, so a retry that raced a completion cannot regress
// the status.
func (s *Store) MarkCompleted(id string) error {
	now := time.Now().UnixMilli()
	_, err := s.Exec(`UPDATE sync_queue SET status = 'completed', error = '', updated_at = ? WHERE id = ? AND status != 'completed'`, now, id)
	return err
}

// MarkFailed records a submission failure; the operation stays eligible for
// retry. Never downgrades a completed operation.
func (s *Store) MarkFailed(id, reason string) error {
	now := time.Now().UnixMilli()
	_, err := s.Exec(`UPDATE sync_queue SET status = 'failed', error = ?, updated_at = ? WHERE id = ? AND status != 'completed'`, reason, now, id)
	return err
}

// CleanupQueue purges completed operations and failed operations older than
// the retention horizon.
func (s *Store) CleanupQueue(retention time.Duration) error {
	cutoff := time.Now().Add(-retention).UnixMilli()
	if _, err := s.Exec(`DELETE FROM sync_queue WHERE status = 'completed'`); err != nil {
		return err
	}
	_, err := s.Exec(`DELETE FROM sync_queue WHERE status = 'failed' AND created_at < ?`, cutoff)
	return err
}
