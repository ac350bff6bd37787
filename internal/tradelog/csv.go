package tradelog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Dado-hash/perp-dexes-bot/internal/domain"
)

// csvHeader 与历史成交文件保持完全一致，下游脚本按列名解析
var csvHeader = []string{"exchange", "timestamp", "side", "price", "quantity"}

// DefaultCSVPath 按 venue 对命名的成交文件路径
func DefaultCSVPath(venueA, ticker, venueB string) string {
	name := fmt.Sprintf("%s_%s_%s_hedge_mode_trades.csv",
		strings.ToLower(venueA), strings.ToLower(ticker), strings.ToLower(venueB))
	return filepath.Join("logs", name)
}

// CSVLog 追加式 CSV 成交记录。
// 每条记录立即 flush 落盘：进程崩溃时丢的是最后一条，不是整个缓冲。
type CSVLog struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *csv.Writer
}

// NewCSVLog 打开（或创建）成交 CSV 文件。新文件先写表头。
func NewCSVLog(path string) (*CSVLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建成交记录目录失败: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开成交记录文件失败: %w", err)
	}

	l := &CSVLog{path: path, file: file, w: csv.NewWriter(file)}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.Size() == 0 {
		if err := l.w.Write(csvHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("写入表头失败: %w", err)
		}
		l.w.Flush()
		if err := l.w.Error(); err != nil {
			file.Close()
			return nil, err
		}
	}
	return l, nil
}

// Record 追加一条成交。时间统一为 UTC ISO 格式。
func (l *CSVLog) Record(venue string, ts time.Time, side domain.Side, price, size decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	row := []string{
		venue,
		ts.UTC().Format(time.RFC3339),
		string(side),
		price.String(),
		size.String(),
	}
	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("写入成交记录失败: %w", err)
	}
	l.w.Flush()
	return l.w.Error()
}

// Path 返回成交文件路径
func (l *CSVLog) Path() string { return l.path }

// Close 关闭文件
func (l *CSVLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}
