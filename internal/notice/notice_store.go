package notice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

const schema = `
CREATE TABLE IF NOT EXISTS notices (
	id           BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
	department   VARCHAR(32)  NOT NULL,
	asset_ref    VARCHAR(255) NOT NULL,
	asset_kind   VARCHAR(16)  NOT NULL,
	scheduled_at DATETIME     NULL,
	expire_at    DATETIME     NOT NULL,
	broadcasted  TINYINT(1)   NOT NULL DEFAULT 0,
	created_at   DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (id),
	UNIQUE KEY uk_notices_asset_ref (asset_ref),
	KEY idx_notices_department (department, id),
	KEY idx_notices_pending (broadcasted, scheduled_at),
	KEY idx_notices_expire (expire_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

const noticeColumns = `id, department, asset_ref, asset_kind, scheduled_at, expire_at, broadcasted, created_at`

const insertNotice = `
	INSERT INTO notices (
		department, asset_ref, asset_kind, scheduled_at, expire_at, broadcasted, created_at
	) VALUES (
		:department, :asset_ref, :asset_kind, :scheduled_at, :expire_at, :broadcasted, :created_at
	)`

// MySQLStore is the sqlx-backed Store. The connection must be opened with
// parseTime=true and loc=UTC.
type MySQLStore struct {
	db *sqlx.DB
}

// NewMySQLStore creates a Store over an open connection.
func NewMySQLStore(db *sqlx.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// EnsureSchema creates the notices table when it is missing.
func (s *MySQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		log.Errorf("[ERROR] EnsureSchema DB error: %v", err)
		return err
	}
	return nil
}

func mapWriteErr(err error) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == ErrMySQLDuplicateEntry {
		return fmt.Errorf("%w: %s", ErrDuplicate, mysqlErr.Message)
	}
	return err
}

func (s *MySQLStore) Insert(ctx context.Context, n *Notice) (uint64, error) {
	res, err := s.db.NamedExecContext(ctx, insertNotice, n)
	if err != nil {
		log.Errorf("[ERROR] Insert DB error: %v", err)
		return 0, mapWriteErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	n.ID = uint64(id)
	return n.ID, nil
}

// BatchInsert runs every insert in one transaction; any failure rolls all back.
func (s *MySQLStore) BatchInsert(ctx context.Context, ns []*Notice) ([]uint64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		log.Errorf("[ERROR] BatchInsert begin error: %v", err)
		return nil, err
	}
	defer tx.Rollback()

	ids := make([]uint64, 0, len(ns))
	for _, n := range ns {
		res, err := tx.NamedExecContext(ctx, insertNotice, n)
		if err != nil {
			log.Errorf("[ERROR] BatchInsert DB error (%s): %v", n.AssetRef, err)
			return nil, mapWriteErr(err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		ids = append(ids, uint64(id))
	}
	if err := tx.Commit(); err != nil {
		log.Errorf("[ERROR] BatchInsert commit error: %v", err)
		return nil, err
	}
	for i, n := range ns {
		n.ID = ids[i]
	}
	return ids, nil
}

func (s *MySQLStore) Get(ctx context.Context, id uint64) (*Notice, error) {
	var n Notice
	err := s.db.GetContext(ctx, &n, `SELECT `+noticeColumns+` FROM notices WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Errorf("[ERROR] Get DB error: %v", err)
		return nil, err
	}
	return &n, nil
}

func filterClause(filter Filter) string {
	switch filter {
	case FilterVisible:
		return ` AND (scheduled_at IS NULL OR scheduled_at <= ?) AND expire_at > ?`
	case FilterReleased:
		return ` AND (scheduled_at IS NULL OR scheduled_at <= ?)`
	case FilterPending:
		return ` AND scheduled_at > ?`
	default:
		return ``
	}
}

func filterArgs(department string, filter Filter, now time.Time) []interface{} {
	args := []interface{}{department}
	switch filter {
	case FilterVisible:
		args = append(args, now, now)
	case FilterReleased, FilterPending:
		args = append(args, now)
	}
	return args
}

func (s *MySQLStore) QueryByDepartment(ctx context.Context, department string, filter Filter, now time.Time) ([]Notice, error) {
	notices := []Notice{}
	query := `SELECT ` + noticeColumns + ` FROM notices WHERE department = ?` + filterClause(filter) + ` ORDER BY id DESC`
	if err := s.db.SelectContext(ctx, &notices, query, filterArgs(department, filter, now)...); err != nil {
		log.Errorf("[ERROR] QueryByDepartment DB error: %v", err)
		return nil, err
	}
	return notices, nil
}

func (s *MySQLStore) CountByDepartment(ctx context.Context, department string, filter Filter, now time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM notices WHERE department = ?` + filterClause(filter)
	if err := s.db.GetContext(ctx, &count, query, filterArgs(department, filter, now)...); err != nil {
		log.Errorf("[ERROR] CountByDepartment DB error: %v", err)
		return 0, err
	}
	return count, nil
}

func (s *MySQLStore) QueryPendingActivation(ctx context.Context, now time.Time) ([]Notice, error) {
	notices := []Notice{}
	query := `SELECT ` + noticeColumns + ` FROM notices
		WHERE scheduled_at IS NOT NULL AND scheduled_at <= ? AND broadcasted = 0
		ORDER BY id DESC`
	if err := s.db.SelectContext(ctx, &notices, query, now); err != nil {
		log.Errorf("[ERROR] QueryPendingActivation DB error: %v", err)
		return nil, err
	}
	return notices, nil
}

func (s *MySQLStore) QueryExpired(ctx context.Context, now time.Time) ([]Notice, error) {
	notices := []Notice{}
	query := `SELECT ` + noticeColumns + ` FROM notices WHERE expire_at <= ? ORDER BY id DESC`
	if err := s.db.SelectContext(ctx, &notices, query, now); err != nil {
		log.Errorf("[ERROR] QueryExpired DB error: %v", err)
		return nil, err
	}
	return notices, nil
}

// MarkBroadcasted only updates rows still unflagged, so two concurrent ticks
// cannot both claim the same activation.
func (s *MySQLStore) MarkBroadcasted(ctx context.Context, id uint64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE notices SET broadcasted = 1 WHERE id = ? AND broadcasted = 0`, id)
	if err != nil {
		log.Errorf("[ERROR] MarkBroadcasted DB error: %v", err)
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Delete reports whether a row was removed.
func (s *MySQLStore) Delete(ctx context.Context, id uint64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notices WHERE id = ?`, id)
	if err != nil {
		log.Errorf("[ERROR] Delete DB error: %v", err)
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteAllByDepartment removes every notice of department in one transaction
// and returns the removed rows.
func (s *MySQLStore) DeleteAllByDepartment(ctx context.Context, department string) ([]Notice, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		log.Errorf("[ERROR] DeleteAllByDepartment begin error: %v", err)
		return nil, err
	}
	defer tx.Rollback()

	notices := []Notice{}
	query := `SELECT ` + noticeColumns + ` FROM notices WHERE department = ? ORDER BY id ASC FOR UPDATE`
	if err := tx.SelectContext(ctx, &notices, query, department); err != nil {
		log.Errorf("[ERROR] DeleteAllByDepartment select error: %v", err)
		return nil, err
	}
	if len(notices) == 0 {
		return notices, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM notices WHERE department = ?`, department); err != nil {
		log.Errorf("[ERROR] DeleteAllByDepartment DB error: %v", err)
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		log.Errorf("[ERROR] DeleteAllByDepartment commit error: %v", err)
		return nil, err
	}
	return notices, nil
}
