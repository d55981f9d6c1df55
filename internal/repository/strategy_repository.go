package repository

import (
	"database/sql"
	"encoding/json"
	"errors"

	"crossarb/internal/models"
)

// Ошибки репозитория стратегий
var (
	ErrStrategyNotFound = errors.New("strategy not found")
)

// StrategyRepository - работа с таблицей multi_exchange_strategies
//
// Ноги и ранжирование хранятся как JSONB: стратегия владеет своими
// ногами целиком, отдельная таблица не нужна
type StrategyRepository struct {
	db *sql.DB
}

// NewStrategyRepository создает новый экземпляр репозитория
func NewStrategyRepository(db *sql.DB) *StrategyRepository {
	return &StrategyRepository{db: db}
}

// Create сохраняет обнаруженную стратегию
func (r *StrategyRepository) Create(s *models.MultiExchangeStrategy) error {
	buyActions, err := json.Marshal(s.BuyActions)
	if err != nil {
		return err
	}
	sellActions, err := json.Marshal(s.SellActions)
	if err != nil {
		return err
	}
	ranking, err := json.Marshal(s.PriceRanking)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO multi_exchange_strategies (
			id, pair, strategy_type, buy_actions, sell_actions,
			total_buy_amount, total_sell_amount, total_buy_cost,
			total_sell_revenue, total_fees, estimated_profit,
			profit_percentage, complexity_score, price_ranking,
			status, created_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err = r.db.Exec(
		query,
		s.ID,
		s.Pair,
		s.StrategyType,
		buyActions,
		sellActions,
		s.TotalBuyAmount,
		s.TotalSellAmount,
		s.TotalBuyCost,
		s.TotalSellRevenue,
		s.TotalFees,
		s.EstimatedProfit,
		s.ProfitPercentage,
		s.ComplexityScore,
		ranking,
		s.Status,
		s.CreatedAt,
		s.ExpiresAt,
	)
	return err
}

// UpdateStatus обновляет статус стратегии
func (r *StrategyRepository) UpdateStatus(s *models.MultiExchangeStrategy) error {
	query := `
		UPDATE multi_exchange_strategies
		SET status = $1
		WHERE id = $2`

	result, err := r.db.Exec(query, s.Status, s.ID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStrategyNotFound
	}

	return nil
}

// GetRecent возвращает последние стратегии
func (r *StrategyRepository) GetRecent(limit int) ([]*models.MultiExchangeStrategy, error) {
	query := `
		SELECT id, pair, strategy_type, buy_actions, sell_actions,
		       total_buy_amount, total_sell_amount, total_buy_cost,
		       total_sell_revenue, total_fees, estimated_profit,
		       profit_percentage, complexity_score, price_ranking,
		       status, created_at, expires_at
		FROM multi_exchange_strategies
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var strategies []*models.MultiExchangeStrategy
	for rows.Next() {
		s := &models.MultiExchangeStrategy{}
		var buyActions, sellActions, ranking []byte
		err := rows.Scan(
			&s.ID,
			&s.Pair,
			&s.StrategyType,
			&buyActions,
			&sellActions,
			&s.TotalBuyAmount,
			&s.TotalSellAmount,
			&s.TotalBuyCost,
			&s.TotalSellRevenue,
			&s.TotalFees,
			&s.EstimatedProfit,
			&s.ProfitPercentage,
			&s.ComplexityScore,
			&ranking,
			&s.Status,
			&s.CreatedAt,
			&s.ExpiresAt,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(buyActions, &s.BuyActions); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(sellActions, &s.SellActions); err != nil {
			return nil, err
		}
		if len(ranking) > 0 {
			if err := json.Unmarshal(ranking, &s.PriceRanking); err != nil {
				return nil, err
			}
		}
		strategies = append(strategies, s)
	}

	return strategies, rows.Err()
}
