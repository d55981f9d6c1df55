package repository

import (
	"database/sql"
	"errors"

	"crossarb/internal/models"
)

// Ошибки репозитория возможностей
var (
	ErrCandidateNotFound = errors.New("candidate not found")
)

// CandidateRepository - работа с таблицей arbitrage_candidates
type CandidateRepository struct {
	db *sql.DB
}

// NewCandidateRepository создает новый экземпляр репозитория
func NewCandidateRepository(db *sql.DB) *CandidateRepository {
	return &CandidateRepository{db: db}
}

// Create сохраняет обнаруженную возможность
func (r *CandidateRepository) Create(c *models.ArbitrageCandidate) error {
	query := `
		INSERT INTO arbitrage_candidates (
			id, pair, buy_exchange, sell_exchange, buy_price, sell_price,
			available_buy_amount, available_sell_amount, optimal_amount,
			gross_profit_percentage, net_profit_percentage, estimated_profit,
			buy_fee, sell_fee, total_fees, status, created_at, expires_at,
			detection_latency_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err := r.db.Exec(
		query,
		c.ID,
		c.Pair,
		c.BuyExchange,
		c.SellExchange,
		c.BuyPrice,
		c.SellPrice,
		c.AvailableBuyAmount,
		c.AvailableSellAmount,
		c.OptimalAmount,
		c.GrossProfitPercentage,
		c.NetProfitPercentage,
		c.EstimatedProfit,
		c.BuyFee,
		c.SellFee,
		c.TotalFees,
		c.Status,
		c.CreatedAt,
		c.ExpiresAt,
		c.DetectionLatency.Milliseconds(),
	)
	return err
}

// UpdateStatus обновляет статус возможности
func (r *CandidateRepository) UpdateStatus(c *models.ArbitrageCandidate) error {
	query := `
		UPDATE arbitrage_candidates
		SET status = $1
		WHERE id = $2`

	result, err := r.db.Exec(query, c.Status, c.ID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrCandidateNotFound
	}

	return nil
}

// GetRecent возвращает последние возможности, самые прибыльные первыми
func (r *CandidateRepository) GetRecent(limit int) ([]*models.ArbitrageCandidate, error) {
	query := `
		SELECT id, pair, buy_exchange, sell_exchange, buy_price, sell_price,
		       available_buy_amount, available_sell_amount, optimal_amount,
		       gross_profit_percentage, net_profit_percentage, estimated_profit,
		       buy_fee, sell_fee, total_fees, status, created_at, expires_at
		FROM arbitrage_candidates
		ORDER BY created_at DESC, net_profit_percentage DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []*models.ArbitrageCandidate
	for rows.Next() {
		c := &models.ArbitrageCandidate{}
		err := rows.Scan(
			&c.ID,
			&c.Pair,
			&c.BuyExchange,
			&c.SellExchange,
			&c.BuyPrice,
			&c.SellPrice,
			&c.AvailableBuyAmount,
			&c.AvailableSellAmount,
			&c.OptimalAmount,
			&c.GrossProfitPercentage,
			&c.NetProfitPercentage,
			&c.EstimatedProfit,
			&c.BuyFee,
			&c.SellFee,
			&c.TotalFees,
			&c.Status,
			&c.CreatedAt,
			&c.ExpiresAt,
		)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}

	return candidates, rows.Err()
}
