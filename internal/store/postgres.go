package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"elena/agent/internal/types"
)

// SQLSTATE codes raised by the citas constraints.
const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"
)

const bookingColumns = `id::text, to_char(fecha, 'YYYY-MM-DD'), to_char(hora, 'HH24:MI'), duracion,
	nombre, email, telefono, servicio, motivo, estado, coalesce(external_ref, ''), created_at`

// Connect opens and pings a pgx pool.
func Connect(ctx context.Context, url string, maxConns int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Postgres relies on the citas_sin_traslape exclusion constraint for the
// atomic overlap check.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres { return &Postgres{pool: pool} }

func (p *Postgres) Insert(ctx context.Context, b types.Booking) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO citas (id, fecha, hora, duracion, nombre, email, telefono, servicio, motivo, estado, created_at)
		VALUES ($1::text::uuid, $2::text::date, $3::text::time, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, b.Fecha, b.Hora, b.Duracion, b.Nombre, b.Email, b.Telefono, b.Servicio, b.Motivo, string(b.Estado), b.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == pgExclusionViolation || pgErr.Code == pgUniqueViolation) {
			return ErrOverlap
		}
		return fmt.Errorf("insert cita: %w", err)
	}
	return nil
}

func (p *Postgres) ActiveOn(ctx context.Context, fecha string) ([]types.Booking, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM citas
		WHERE fecha = $1::text::date AND estado IN ('pending', 'confirmed')
		ORDER BY hora`, fecha)
	if err != nil {
		return nil, fmt.Errorf("query citas: %w", err)
	}
	defer rows.Close()

	var out []types.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read citas: %w", err)
	}
	return out, nil
}

func (p *Postgres) Get(ctx context.Context, id string) (types.Booking, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM citas WHERE id::text = $1`, id)
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Booking{}, ErrNotFound
	}
	return b, err
}

func (p *Postgres) Transition(ctx context.Context, id string, to types.Estado) (types.Booking, error) {
	from := make([]string, 0, 2)
	for _, e := range AllowedFrom(to) {
		from = append(from, string(e))
	}
	row := p.pool.QueryRow(ctx, `
		UPDATE citas SET estado = $2, updated_at = now()
		WHERE id::text = $1 AND estado = ANY($3)
		RETURNING `+bookingColumns, id, string(to), from)
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		cur, gerr := p.Get(ctx, id)
		if gerr != nil {
			return types.Booking{}, gerr
		}
		return cur, ErrTransition
	}
	return b, err
}

func (p *Postgres) SetExternalRef(ctx context.Context, id, ref string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE citas SET external_ref = $2, updated_at = now() WHERE id::text = $1`, id, ref)
	if err != nil {
		return fmt.Errorf("update external_ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanBooking(row pgx.Row) (types.Booking, error) {
	var b types.Booking
	var estado string
	err := row.Scan(&b.ID, &b.Fecha, &b.Hora, &b.Duracion, &b.Nombre, &b.Email, &b.Telefono,
		&b.Servicio, &b.Motivo, &estado, &b.ExternalRef, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return b, err
		}
		return b, fmt.Errorf("scan cita: %w", err)
	}
	b.Estado = types.Estado(estado)
	return b, nil
}
