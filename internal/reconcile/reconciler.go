package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Dado-hash/perp-dexes-bot/internal/domain"
	"github.com/Dado-hash/perp-dexes-bot/internal/ports"
	"github.com/Dado-hash/perp-dexes-bot/pkg/config"
	"github.com/Dado-hash/perp-dexes-bot/pkg/logger"
)

// ErrPositionMismatch 表示两 venue 仓位偏差超过阈值，必须停止交易。
var ErrPositionMismatch = errors.New("position mismatch between venues")

// MismatchError 携带对账细节的致命错误，errors.Is(err, ErrPositionMismatch) 为真。
type MismatchError struct {
	VenueA, VenueB string
	PosA, PosB     decimal.Decimal
	Rule           config.MismatchRule
	Value          decimal.Decimal // 公式计算出的偏差
	Threshold      decimal.Decimal
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("position mismatch: %s=%s %s=%s rule=%s value=%s threshold=%s",
		e.VenueA, e.PosA.String(), e.VenueB, e.PosB.String(),
		e.Rule, e.Value.String(), e.Threshold.String())
}

func (e *MismatchError) Unwrap() error { return ErrPositionMismatch }

// Reconciler 跨 venue 仓位对账器。
//
// 以 venue 查询值为权威，刷新仓位簿并按配置的公式检查一致性。
// 查询失败不致命：保留上次已知值并告警，留给下一轮再试。
type Reconciler struct {
	venueA, venueB ports.ExchangeGateway
	book           *domain.PositionBook
	rule           config.MismatchRule
	threshold      decimal.Decimal
	log            *logrus.Entry
}

func NewReconciler(venueA, venueB ports.ExchangeGateway, book *domain.PositionBook, rule config.MismatchRule, threshold decimal.Decimal) *Reconciler {
	return &Reconciler{
		venueA:    venueA,
		venueB:    venueB,
		book:      book,
		rule:      rule,
		threshold: threshold,
		log:       logger.WithField("component", "reconciler"),
	}
}

// Refresh 刷新两 venue 的净仓位到仓位簿。
// 单边查询失败时保留该 venue 的上次已知值，不中断另一边的刷新。
func (r *Reconciler) Refresh(ctx context.Context) {
	for _, gw := range []ports.ExchangeGateway{r.venueA, r.venueB} {
		pos, err := gw.GetNetPosition(ctx)
		if err != nil {
			r.log.Warnf("刷新 %s 仓位失败，沿用上次已知值 %s: %v",
				gw.Name(), r.book.Get(gw.Name()).String(), err)
			continue
		}
		r.book.Set(gw.Name(), pos)
	}
}

// SyncInitial 启动时同步两 venue 仓位，非零的历史遗留仓位要显式告警。
func (r *Reconciler) SyncInitial(ctx context.Context) error {
	for _, gw := range []ports.ExchangeGateway{r.venueA, r.venueB} {
		pos, err := gw.GetNetPosition(ctx)
		if err != nil {
			return fmt.Errorf("同步 %s 初始仓位失败: %w", gw.Name(), err)
		}
		r.book.Set(gw.Name(), pos)
		if pos.IsZero() {
			r.log.Infof("%s 初始仓位为 0", gw.Name())
		} else {
			r.log.Warnf("⚠️ %s 存在历史遗留仓位: %s", gw.Name(), pos.String())
		}
	}
	return nil
}

// CheckConsistency 刷新并核对两 venue 仓位。
//
// 偏差严格大于阈值才判为 mismatch（边界相等视为通过）。
// 同向敞口说明某条腿方向反了或未成交，但不超阈值时只告警不停机。
func (r *Reconciler) CheckConsistency(ctx context.Context) error {
	r.Refresh(ctx)

	posA := r.book.Get(r.venueA.Name())
	posB := r.book.Get(r.venueB.Name())

	var value decimal.Decimal
	switch r.rule {
	case config.MismatchRuleNetSum:
		value = posA.Add(posB).Abs()
	case config.MismatchRuleEqualMagnitude:
		value = posA.Abs().Sub(posB.Abs()).Abs()
	default:
		return fmt.Errorf("未知的对账公式: %s", r.rule)
	}

	if value.GreaterThan(r.threshold) {
		return &MismatchError{
			VenueA: r.venueA.Name(), VenueB: r.venueB.Name(),
			PosA: posA, PosB: posB,
			Rule: r.rule, Value: value, Threshold: r.threshold,
		}
	}

	if !posA.IsZero() && !posB.IsZero() && posA.Sign() == posB.Sign() {
		r.log.Warnf("⚠️ 两 venue 敞口同向: %s=%s %s=%s（对冲腿可能反向或未成交）",
			r.venueA.Name(), posA.String(), r.venueB.Name(), posB.String())
	}

	r.log.Infof("仓位核对通过: %s=%s %s=%s rule=%s value=%s",
		r.venueA.Name(), posA.String(), r.venueB.Name(), posB.String(), r.rule, value.String())
	return nil
}
