package history

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/models"
)

// PGReader serves 1m bars from the persisted bar store. It is strictly a
// read path; the pipeline never writes through it.
type PGReader struct {
	pool *pgxpool.Pool
}

// NewPGReader wraps a pgx pool as a history source.
func NewPGReader(pool *pgxpool.Pool) *PGReader {
	return &PGReader{pool: pool}
}

// Fetch1m returns up to limit 1m bars for symbol with bar_start in
// [fromMs, toMs], ascending.
func (p *PGReader) Fetch1m(ctx context.Context, symbol string, fromMs, toMs int64, limit int) ([]models.Bar, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT bar_start, open, high, low, close, volume
		FROM bars_1m
		WHERE symbol = $1 AND bar_start >= $2 AND bar_start <= $3
		ORDER BY bar_start ASC
		LIMIT $4
	`, symbol, fromMs, toMs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		b := models.Bar{Symbol: symbol, Timeframe: models.TF1m.Label}
		if err := rows.Scan(&b.BarStart, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		b.BarStart = (b.BarStart / 60_000) * 60_000
		b.BarEnd = b.BarStart + 60_000
		b.Seq = models.SeqForStart(b.BarStart)
		bars = append(bars, b)
	}
	return bars, rows.Err()
}
