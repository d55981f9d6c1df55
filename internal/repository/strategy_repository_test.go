package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crossarb/internal/models"
)

func testStrategy() *models.MultiExchangeStrategy {
	now := time.Now()
	return &models.MultiExchangeStrategy{
		ID:           uuid.New(),
		Pair:         "BTCUSDT",
		StrategyType: models.StrategyOneToMany,
		BuyActions: []models.StrategyAction{
			{Exchange: "nobitex", Amount: decimal.NewFromInt(3), Price: decimal.NewFromInt(50000), Liquidity: decimal.NewFromInt(5)},
		},
		SellActions: []models.StrategyAction{
			{Exchange: "wallex", Amount: decimal.NewFromInt(2), Price: decimal.NewFromInt(50400), Liquidity: decimal.NewFromInt(4)},
			{Exchange: "ramzinex", Amount: decimal.NewFromInt(1), Price: decimal.NewFromInt(50300), Liquidity: decimal.NewFromInt(2)},
		},
		TotalBuyAmount:   decimal.NewFromInt(3),
		TotalSellAmount:  decimal.NewFromInt(3),
		TotalBuyCost:     decimal.NewFromInt(150000),
		TotalSellRevenue: decimal.NewFromInt(151100),
		EstimatedProfit:  decimal.NewFromInt(1100),
		ProfitPercentage: decimal.RequireFromString("0.73"),
		ComplexityScore:  3,
		PriceRanking: []models.ExchangeRank{
			{Exchange: "nobitex", AskPrice: decimal.NewFromInt(50000), BidPrice: decimal.NewFromInt(49900)},
			{Exchange: "wallex", AskPrice: decimal.NewFromInt(50500), BidPrice: decimal.NewFromInt(50400)},
		},
		Status:    models.OpportunityDetected,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	}
}

// ============================================================
// StrategyRepository Tests
// ============================================================

func TestStrategyRepositoryCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	s := testStrategy()
	mock.ExpectExec(`INSERT INTO multi_exchange_strategies`).
		WithArgs(
			s.ID, s.Pair, s.StrategyType,
			sqlmock.AnyArg(), sqlmock.AnyArg(), // JSONB ноги
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			s.ComplexityScore, sqlmock.AnyArg(),
			s.Status, s.CreatedAt, s.ExpiresAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewStrategyRepository(db)
	if err := repo.Create(s); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStrategyRepositoryUpdateStatus(t *testing.T) {
	tests := []struct {
		name        string
		affected    int64
		expectError error
	}{
		{name: "success", affected: 1, expectError: nil},
		{name: "not found", affected: 0, expectError: ErrStrategyNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			s := testStrategy()
			s.Status = models.OpportunityExecuted

			mock.ExpectExec(`UPDATE multi_exchange_strategies`).
				WithArgs(s.Status, s.ID).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			repo := NewStrategyRepository(db)
			err = repo.UpdateStatus(s)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected %v, got %v", tt.expectError, err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestStrategyRepositoryGetRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	id := uuid.New()
	buyActions := []byte(`[{"exchange":"nobitex","amount":"3","price":"50000","liquidity":"5","profit_percentage":"0"}]`)
	sellActions := []byte(`[{"exchange":"wallex","amount":"2","price":"50400","liquidity":"4","profit_percentage":"0.6"},` +
		`{"exchange":"ramzinex","amount":"1","price":"50300","liquidity":"2","profit_percentage":"0.5"}]`)
	ranking := []byte(`[{"exchange":"nobitex","ask_price":"50000","bid_price":"49900"}]`)

	rows := sqlmock.NewRows([]string{
		"id", "pair", "strategy_type", "buy_actions", "sell_actions",
		"total_buy_amount", "total_sell_amount", "total_buy_cost",
		"total_sell_revenue", "total_fees", "estimated_profit",
		"profit_percentage", "complexity_score", "price_ranking",
		"status", "created_at", "expires_at",
	}).AddRow(
		id, "BTCUSDT", "one_to_many", buyActions, sellActions,
		"3", "3", "150000", "151100", "0", "1100",
		"0.73", 3, ranking,
		"detected", now, now.Add(time.Minute),
	)

	mock.ExpectQuery(`SELECT (.+) FROM multi_exchange_strategies`).
		WithArgs(10).
		WillReturnRows(rows)

	repo := NewStrategyRepository(db)
	strategies, err := repo.GetRecent(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(strategies) != 1 {
		t.Fatalf("got %d strategies, want 1", len(strategies))
	}

	s := strategies[0]
	if s.ID != id {
		t.Errorf("id = %s, want %s", s.ID, id)
	}
	if len(s.BuyActions) != 1 || s.BuyActions[0].Exchange != "nobitex" {
		t.Fatalf("buy actions = %+v, want one leg on nobitex", s.BuyActions)
	}
	if !s.BuyActions[0].Amount.Equal(decimal.NewFromInt(3)) {
		t.Errorf("buy amount = %s, want 3", s.BuyActions[0].Amount)
	}
	if len(s.SellActions) != 2 || s.SellActions[1].Exchange != "ramzinex" {
		t.Fatalf("sell actions = %+v, want legs on wallex and ramzinex", s.SellActions)
	}
	if len(s.PriceRanking) != 1 || s.PriceRanking[0].Exchange != "nobitex" {
		t.Errorf("price ranking = %+v, want snapshot with nobitex", s.PriceRanking)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
