package tradelog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/Dado-hash/perp-dexes-bot/internal/domain"
)

const tradesSchema = `
CREATE TABLE IF NOT EXISTS trades (
  id        INTEGER PRIMARY KEY AUTOINCREMENT,
  exchange  TEXT NOT NULL,
  ts        TEXT NOT NULL,
  side      TEXT NOT NULL,
  price     TEXT NOT NULL,
  quantity  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_exchange_ts ON trades(exchange, ts);
`

// SQLiteLog SQLite 成交库，CSV 之外的可查询历史。
// 重试产生的重复记录照单全收，查询侧自行去重。
type SQLiteLog struct {
	db *sql.DB
}

// Trade 一条成交记录
type Trade struct {
	ID       int64
	Exchange string
	Ts       time.Time
	Side     domain.Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// OpenSQLiteLog 打开（或创建）SQLite 成交库并初始化 schema
func OpenSQLiteLog(path string) (*SQLiteLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建成交库目录失败: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开成交库失败: %w", err)
	}
	// modernc sqlite 单连接写入最稳妥
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(tradesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化成交库 schema 失败: %w", err)
	}
	return &SQLiteLog{db: db}, nil
}

// Record 追加一条成交
func (l *SQLiteLog) Record(venue string, ts time.Time, side domain.Side, price, size decimal.Decimal) error {
	_, err := l.db.Exec(`
INSERT INTO trades (exchange, ts, side, price, quantity)
VALUES (?,?,?,?,?)
`, venue, ts.UTC().Format(time.RFC3339Nano), string(side), price.String(), size.String())
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// ListByExchange 按 venue 查询成交，时间倒序
func (l *SQLiteLog) ListByExchange(ctx context.Context, exchange string, limit int) ([]Trade, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT id, exchange, ts, side, price, quantity
FROM trades WHERE exchange=? ORDER BY ts DESC, id DESC LIMIT ?
`, exchange, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var tr Trade
		var ts, price, qty string
		if err := rows.Scan(&tr.ID, &tr.Exchange, &ts, &tr.Side, &price, &qty); err != nil {
			return nil, err
		}
		tr.Ts, _ = time.Parse(time.RFC3339Nano, ts)
		tr.Price, _ = decimal.NewFromString(price)
		tr.Quantity, _ = decimal.NewFromString(qty)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Close 关闭成交库
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}
