package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Состояния исполнения (родительский state machine)
const (
	ExecutionDetected   = "DETECTED"   // возможность принята, ордера не размещены
	ExecutionValidating = "VALIDATING" // ревалидация рыночных данных перед входом
	ExecutionExecuting  = "EXECUTING"  // ордера размещены, отслеживание исполнения
	ExecutionCompleted  = "COMPLETED"  // все ноги исполнены
	ExecutionFailed     = "FAILED"     // хотя бы одна нога провалилась или дедлайн
	ExecutionCancelled  = "CANCELLED"  // отменено до размещения ордеров
)

// Состояния ноги (строго вперёд, терминальные не покидаются)
const (
	LegPending         = "PENDING"
	LegPlaced          = "PLACED"
	LegPartiallyFilled = "PARTIALLY_FILLED"
	LegFilled          = "FILLED"
	LegFailed          = "FAILED"
	LegCancelled       = "CANCELLED"
)

// Стороны ноги
const (
	LegSideBuy  = "BUY"
	LegSideSell = "SELL"
)

// ExecutionLeg - одно действие на одной бирже в составе исполнения
//
// Нога принадлежит исключительно родительскому исполнению и никогда
// не разделяется между ними. FilledAmount/AvgFillPrice отражают
// состояние, подтверждённое биржей, а не целевые значения.
type ExecutionLeg struct {
	ID          uuid.UUID       `json:"id"`
	ExecutionID uuid.UUID       `json:"execution_id"`
	Exchange    string          `json:"exchange"`
	Side        string          `json:"side"` // BUY, SELL
	OrderID     string          `json:"order_id"`

	TargetAmount decimal.Decimal `json:"target_amount"`
	TargetPrice  decimal.Decimal `json:"target_price"`
	FilledAmount decimal.Decimal `json:"filled_amount"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	FeePaid      decimal.Decimal `json:"fee_paid"`

	State        string     `json:"state"`
	ErrorMessage string     `json:"error_message,omitempty"`
	PlacedAt     *time.Time `json:"placed_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// FillPercentage возвращает процент исполнения ноги
func (l *ExecutionLeg) FillPercentage() decimal.Decimal {
	if !l.TargetAmount.IsPositive() {
		return decimal.Zero
	}
	return l.FilledAmount.Div(l.TargetAmount).Mul(decimal.NewFromInt(100))
}

// IsTerminal проверяет, находится ли нога в терминальном состоянии
func (l *ExecutionLeg) IsTerminal() bool {
	return l.State == LegFilled || l.State == LegFailed || l.State == LegCancelled
}

// Execution - исполнение принятой возможности или стратегии
//
// Ровно одно из CandidateID/StrategyID ненулевое. FinalProfit считается
// ТОЛЬКО из фактически исполненных объёмов: частичное исполнение -
// ожидаемая ситуация, а не ошибка, и не должно отчитываться как полное.
type Execution struct {
	ID          uuid.UUID  `json:"id"`
	CandidateID *uuid.UUID `json:"candidate_id,omitempty"`
	StrategyID  *uuid.UUID `json:"strategy_id,omitempty"`
	Pair        string     `json:"pair"`

	Legs []*ExecutionLeg `json:"legs"`

	State        string `json:"state"`
	ErrorMessage string `json:"error_message,omitempty"`

	// true когда часть ног исполнилась, а часть провалилась:
	// требует сверки, отличается от чистого провала
	PartialFailure bool `json:"partial_failure"`

	FinalProfit      decimal.Decimal `json:"final_profit"`
	ProfitPercentage decimal.Decimal `json:"profit_percentage"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`   // переход в EXECUTING
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Deadline    time.Time  `json:"deadline"` // жёсткая граница фазы EXECUTING
}

// CalculateFinalProfit вычисляет реализованный P&L из исполненных объёмов
//
// profit = Σ(sell: filled*avg - fee) - Σ(buy: filled*avg + fee)
func (e *Execution) CalculateFinalProfit() decimal.Decimal {
	profit := decimal.Zero
	buyCost := decimal.Zero

	for _, leg := range e.Legs {
		value := leg.FilledAmount.Mul(leg.AvgFillPrice)
		switch leg.Side {
		case LegSideSell:
			profit = profit.Add(value.Sub(leg.FeePaid))
		case LegSideBuy:
			cost := value.Add(leg.FeePaid)
			profit = profit.Sub(cost)
			buyCost = buyCost.Add(cost)
		}
	}

	e.FinalProfit = profit
	if buyCost.IsPositive() {
		e.ProfitPercentage = profit.Div(buyCost).Mul(decimal.NewFromInt(100))
	} else {
		e.ProfitPercentage = decimal.Zero
	}
	return e.FinalProfit
}

// IsTerminal проверяет, находится ли исполнение в терминальном состоянии
func (e *Execution) IsTerminal() bool {
	return e.State == ExecutionCompleted || e.State == ExecutionFailed || e.State == ExecutionCancelled
}
