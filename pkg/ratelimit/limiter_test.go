package ratelimit

import (
	"context"
	"testing"
	"time"
)

// ============================================================
// Тесты RateLimiter
// ============================================================

func TestAllowConsumesTokens(t *testing.T) {
	rl := NewRateLimiter(1, 2)

	if !rl.Allow() {
		t.Fatal("первый запрос должен пройти")
	}
	if !rl.Allow() {
		t.Fatal("второй запрос должен пройти (burst 2)")
	}
	if rl.Allow() {
		t.Fatal("третий запрос должен быть отклонён, ведро пусто")
	}
}

func TestRefillRestoresTokens(t *testing.T) {
	rl := NewRateLimiter(100, 100)
	for rl.Allow() {
	}

	time.Sleep(50 * time.Millisecond)

	if !rl.Allow() {
		t.Error("после паузы токены должны восстановиться")
	}
}

func TestWaitRespectsContext(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	rl.Allow() // опустошаем ведро

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); err == nil {
		t.Error("Wait должен вернуть ошибку при истечении контекста")
	}
}

func TestNewRateLimiterSanitizesParams(t *testing.T) {
	rl := NewRateLimiter(-5, 0)
	if rl.Rate() <= 0 {
		t.Errorf("Rate = %v, want > 0", rl.Rate())
	}
	if rl.Burst() < rl.Rate() {
		t.Errorf("Burst = %v меньше Rate = %v", rl.Burst(), rl.Rate())
	}
}

func TestSetRate(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.SetRate(100)
	if rl.Rate() != 100 {
		t.Errorf("Rate = %v, want 100", rl.Rate())
	}
	rl.SetRate(-1) // игнорируется
	if rl.Rate() != 100 {
		t.Errorf("Rate = %v, want 100 после некорректного SetRate", rl.Rate())
	}
}

// ============================================================
// Тесты Registry
// ============================================================

func TestRegistryIsolatesExchanges(t *testing.T) {
	reg := NewRegistry(10, 20)
	reg.Configure("nobitex", 1, 1)
	reg.Configure("wallex", 1, 1)

	if !reg.Get("nobitex").Allow() {
		t.Fatal("nobitex должен пропустить первый запрос")
	}
	if reg.Get("nobitex").Allow() {
		t.Fatal("лимит nobitex исчерпан")
	}
	// Исчерпание nobitex не должно влиять на wallex
	if !reg.Get("wallex").Allow() {
		t.Error("wallex должен пропустить запрос, его ведро не тронуто")
	}
}

func TestRegistryDefaultLimiter(t *testing.T) {
	reg := NewRegistry(5, 7)

	limiter := reg.Get("ramzinex")
	if limiter.Rate() != 5 || limiter.Burst() != 7 {
		t.Errorf("дефолтный limiter: rate %v burst %v, want 5/7", limiter.Rate(), limiter.Burst())
	}
	// Повторный Get возвращает тот же limiter
	if reg.Get("ramzinex") != limiter {
		t.Error("Get должен возвращать существующий limiter")
	}
}

func TestRegistryCaseInsensitive(t *testing.T) {
	reg := NewRegistry(10, 20)
	reg.Configure("Nobitex", 1, 1)

	if reg.Get("nobitex") != reg.Get("NOBITEX") {
		t.Error("имя биржи должно нормализоваться к нижнему регистру")
	}
}
