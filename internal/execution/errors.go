package execution

import "errors"

var (
	// ErrStopped 表示执行因 ctx 取消而中止，订单流程未完成。
	ErrStopped = errors.New("execution stopped")

	// ErrNoOrderID 表示交易所接受了下单请求但没有返回订单号。
	// 此时订单可能已经挂上但无法跟踪，绝对不能盲目重试，
	// 否则会重复建仓。上层必须立即停止并人工介入。
	ErrNoOrderID = errors.New("order placed without order id")
)
