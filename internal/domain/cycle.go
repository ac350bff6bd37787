package domain

import (
	"github.com/shopspring/decimal"
)

// CyclePhase 对冲周期阶段
type CyclePhase string

const (
	PhaseInit       CyclePhase = "INIT"
	PhaseOpenMaker  CyclePhase = "OPEN_MAKER"
	PhaseHedge      CyclePhase = "HEDGE"
	PhaseCloseMaker CyclePhase = "CLOSE_MAKER"
	PhaseUnhedge    CyclePhase = "UNHEDGE"
	PhaseComplete   CyclePhase = "COMPLETE"
	PhaseAborted    CyclePhase = "ABORTED"
)

// Terminal 检查阶段是否为终态
func (p CyclePhase) Terminal() bool {
	return p == PhaseComplete || p == PhaseAborted
}

// HedgeCycleState 对冲周期状态，由 orchestrator 独占持有，一次运行一个实例。
// 字段导出并带 json tag，便于做 best-effort 快照持久化。
type HedgeCycleState struct {
	Iteration   int                            `json:"iteration"`
	Phase       CyclePhase                     `json:"phase"`
	FilledSizes map[CyclePhase]decimal.Decimal `json:"filled_sizes"` // 各阶段实际成交量
	AbortReason string                         `json:"abort_reason,omitempty"`
}

// NewHedgeCycleState 创建初始周期状态
func NewHedgeCycleState() *HedgeCycleState {
	return &HedgeCycleState{
		Phase:       PhaseInit,
		FilledSizes: make(map[CyclePhase]decimal.Decimal),
	}
}

// Enter 进入指定阶段
func (s *HedgeCycleState) Enter(phase CyclePhase) {
	s.Phase = phase
}

// RecordFill 记录某阶段的实际成交量。
// 后续阶段的下单数量必须来自这里，而不是配置的原始数量。
func (s *HedgeCycleState) RecordFill(phase CyclePhase, size decimal.Decimal) {
	if s.FilledSizes == nil {
		s.FilledSizes = make(map[CyclePhase]decimal.Decimal)
	}
	s.FilledSizes[phase] = size
}

// FilledSize 返回某阶段记录的成交量
func (s *HedgeCycleState) FilledSize(phase CyclePhase) decimal.Decimal {
	return s.FilledSizes[phase]
}

// Abort 进入 ABORTED 终态并记录原因
func (s *HedgeCycleState) Abort(reason string) {
	s.Phase = PhaseAborted
	s.AbortReason = reason
}

// Aborted 检查是否已中止
func (s *HedgeCycleState) Aborted() bool {
	return s.Phase == PhaseAborted
}
