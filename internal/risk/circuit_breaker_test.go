package risk

import (
	"errors"
	"testing"
)

func TestCircuitBreakerHaltAndResume(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	if err := cb.AllowTrading(); err != nil {
		t.Fatalf("初始状态应允许交易: %v", err)
	}

	cb.Halt()
	if err := cb.AllowTrading(); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatalf("Halt 后应禁止交易: %v", err)
	}

	cb.Resume()
	if err := cb.AllowTrading(); err != nil {
		t.Fatalf("Resume 后应恢复交易: %v", err)
	}
}

func TestCircuitBreakerConsecutiveErrors(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxConsecutiveErrors: 3})

	cb.OnError()
	cb.OnError()
	if err := cb.AllowTrading(); err != nil {
		t.Fatalf("未达上限不应熔断: %v", err)
	}

	// 成功清零计数
	cb.OnSuccess()
	cb.OnError()
	cb.OnError()
	if err := cb.AllowTrading(); err != nil {
		t.Fatalf("OnSuccess 应清零计数: %v", err)
	}

	cb.OnError()
	if err := cb.AllowTrading(); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatal("连续错误达到上限应熔断")
	}
	// 熔断是锁存的，计数清零也不自动恢复
	cb.OnSuccess()
	if err := cb.AllowTrading(); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatal("熔断后必须显式 Resume 才能恢复")
	}
}

func TestCircuitBreakerDisabledThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxConsecutiveErrors: 0})
	for i := 0; i < 100; i++ {
		cb.OnError()
	}
	if err := cb.AllowTrading(); err != nil {
		t.Fatalf("阈值为 0 时应关闭连续错误熔断: %v", err)
	}
}

func TestCircuitBreakerNilReceiver(t *testing.T) {
	var cb *CircuitBreaker
	cb.Halt()
	cb.OnError()
	cb.OnSuccess()
	cb.Resume()
	if err := cb.AllowTrading(); err != nil {
		t.Fatalf("nil 接收者应安全且允许交易: %v", err)
	}
}
