package reports

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository aggregates posted journal lines per account. Reads go against
// the same journal_entries/journal_lines tables every write path uses;
// there is deliberately no shadow reporting store.
type Repository interface {
	AccountBalances(ctx context.Context, orgID int64, from, to time.Time) ([]AccountBalance, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) AccountBalances(ctx context.Context, orgID int64, from, to time.Time) ([]AccountBalance, error) {
	rows, err := r.db.Query(ctx, `
SELECT a.code, a.name, a.type,
       COALESCE(SUM(jl.debit)  FILTER (WHERE je.date <  $2), 0) - COALESCE(SUM(jl.credit) FILTER (WHERE je.date < $2), 0) AS opening,
       COALESCE(SUM(jl.debit)  FILTER (WHERE je.date >= $2 AND je.date <= $3), 0) AS debit,
       COALESCE(SUM(jl.credit) FILTER (WHERE je.date >= $2 AND je.date <= $3), 0) AS credit
FROM accounts a
JOIN journal_lines jl ON jl.account_id = a.id
JOIN journal_entries je ON je.id = jl.je_id AND je.org_id = a.org_id
WHERE a.org_id = $1 AND je.date <= $3
GROUP BY a.code, a.name, a.type
ORDER BY a.code ASC`, orgID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountBalance
	for rows.Next() {
		var b AccountBalance
		if err := rows.Scan(&b.Code, &b.Name, &b.Type, &b.Opening, &b.Debit, &b.Credit); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
