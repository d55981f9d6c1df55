package repository

import (
	"database/sql"
	"errors"

	"crossarb/internal/models"
)

// Ошибки репозитория исполнений
var (
	ErrExecutionNotFound = errors.New("execution not found")
)

// ExecutionRepository - работа с таблицами executions и execution_legs
type ExecutionRepository struct {
	db *sql.DB
}

// NewExecutionRepository создает новый экземпляр репозитория
func NewExecutionRepository(db *sql.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// Upsert сохраняет исполнение или обновляет его состояние
//
// Координатор шлёт обновления на каждом переходе state machine,
// запись создаётся первым из них
func (r *ExecutionRepository) Upsert(e *models.Execution) error {
	query := `
		INSERT INTO executions (
			id, candidate_id, strategy_id, pair, state, error_message,
			partial_failure, final_profit, profit_percentage,
			created_at, started_at, completed_at, deadline
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			error_message = EXCLUDED.error_message,
			partial_failure = EXCLUDED.partial_failure,
			final_profit = EXCLUDED.final_profit,
			profit_percentage = EXCLUDED.profit_percentage,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			deadline = EXCLUDED.deadline`

	_, err := r.db.Exec(
		query,
		e.ID,
		e.CandidateID,
		e.StrategyID,
		e.Pair,
		e.State,
		e.ErrorMessage,
		e.PartialFailure,
		e.FinalProfit,
		e.ProfitPercentage,
		e.CreatedAt,
		e.StartedAt,
		e.CompletedAt,
		e.Deadline,
	)
	return err
}

// UpsertLeg сохраняет ногу или обновляет её состояние
func (r *ExecutionRepository) UpsertLeg(l *models.ExecutionLeg) error {
	query := `
		INSERT INTO execution_legs (
			id, execution_id, exchange, side, order_id,
			target_amount, target_price, filled_amount, avg_fill_price,
			fee_paid, state, error_message, placed_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			order_id = EXCLUDED.order_id,
			filled_amount = EXCLUDED.filled_amount,
			avg_fill_price = EXCLUDED.avg_fill_price,
			fee_paid = EXCLUDED.fee_paid,
			state = EXCLUDED.state,
			error_message = EXCLUDED.error_message,
			placed_at = EXCLUDED.placed_at,
			completed_at = EXCLUDED.completed_at`

	_, err := r.db.Exec(
		query,
		l.ID,
		l.ExecutionID,
		l.Exchange,
		l.Side,
		l.OrderID,
		l.TargetAmount,
		l.TargetPrice,
		l.FilledAmount,
		l.AvgFillPrice,
		l.FeePaid,
		l.State,
		l.ErrorMessage,
		l.PlacedAt,
		l.CompletedAt,
	)
	return err
}

// GetByID возвращает исполнение вместе с ногами
func (r *ExecutionRepository) GetByID(id string) (*models.Execution, error) {
	query := `
		SELECT id, candidate_id, strategy_id, pair, state, error_message,
		       partial_failure, final_profit, profit_percentage,
		       created_at, started_at, completed_at, deadline
		FROM executions
		WHERE id = $1`

	e := &models.Execution{}
	err := r.db.QueryRow(query, id).Scan(
		&e.ID,
		&e.CandidateID,
		&e.StrategyID,
		&e.Pair,
		&e.State,
		&e.ErrorMessage,
		&e.PartialFailure,
		&e.FinalProfit,
		&e.ProfitPercentage,
		&e.CreatedAt,
		&e.StartedAt,
		&e.CompletedAt,
		&e.Deadline,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}

	legs, err := r.getLegs(id)
	if err != nil {
		return nil, err
	}
	e.Legs = legs

	return e, nil
}

func (r *ExecutionRepository) getLegs(executionID string) ([]*models.ExecutionLeg, error) {
	query := `
		SELECT id, execution_id, exchange, side, order_id,
		       target_amount, target_price, filled_amount, avg_fill_price,
		       fee_paid, state, error_message, placed_at, completed_at
		FROM execution_legs
		WHERE execution_id = $1
		ORDER BY side, exchange`

	rows, err := r.db.Query(query, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var legs []*models.ExecutionLeg
	for rows.Next() {
		l := &models.ExecutionLeg{}
		err := rows.Scan(
			&l.ID,
			&l.ExecutionID,
			&l.Exchange,
			&l.Side,
			&l.OrderID,
			&l.TargetAmount,
			&l.TargetPrice,
			&l.FilledAmount,
			&l.AvgFillPrice,
			&l.FeePaid,
			&l.State,
			&l.ErrorMessage,
			&l.PlacedAt,
			&l.CompletedAt,
		)
		if err != nil {
			return nil, err
		}
		legs = append(legs, l)
	}

	return legs, rows.Err()
}
