package detector

import (
	"github.com/shopspring/decimal"

	"crossarb/internal/models"
)

// executableLiquidity вычисляет объём, исполнимый в границе
// проскальзывания от референсной цены
//
// Верх стакана не отражает реальной исполнимости: на неликвидном
// рынке видимая возможность может быть неторгуемой. Поэтому уровни
// обходятся от лучшей цены наружу, пока цена не выйдет за
// slippageBound (доля, 0.01 = 1%) от refPrice.
//
// Для покупки обходятся asks (цена не выше ref*(1+bound)),
// для продажи - bids (цена не ниже ref*(1-bound))
func executableLiquidity(book *models.NormalizedOrderBook, side string, refPrice, slippageBound decimal.Decimal) decimal.Decimal {
	if book == nil || refPrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	one := decimal.NewFromInt(1)
	total := decimal.Zero

	switch side {
	case models.BookSideAsk:
		limit := refPrice.Mul(one.Add(slippageBound))
		for _, lvl := range book.Asks {
			if lvl.Price.GreaterThan(limit) {
				break
			}
			total = total.Add(lvl.Quantity)
		}
	case models.BookSideBid:
		limit := refPrice.Mul(one.Sub(slippageBound))
		for _, lvl := range book.Bids {
			if lvl.Price.LessThan(limit) {
				break
			}
			total = total.Add(lvl.Quantity)
		}
	}

	return total
}
