package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// purgeBatchSize は1回のDELETEで削除する最大行数。
// 大量の期限切れ行があってもロックを長時間保持しない。
const purgeBatchSize = 1000

// deleteExpiredRows はexpires_atを過ぎた行をバッチ単位で削除し、合計件数を返す。
// tableは定数で渡すこと。
func deleteExpiredRows(ctx context.Context, db *sql.DB, table string) (int64, error) {
	query := fmt.Sprintf(
		`DELETE FROM %s WHERE id IN (SELECT id FROM %s WHERE expires_at <= now() LIMIT $1)`,
		table, table,
	)

	var total int64
	for {
		result, err := db.ExecContext(ctx, query, purgeBatchSize)
		if err != nil {
			return total, fmt.Errorf("failed to delete expired %s: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to get rows affected: %w", err)
		}
		total += n
		if n < purgeBatchSize {
			return total, nil
		}
	}
}
