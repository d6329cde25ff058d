package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a Store backed by a pgx connection pool. Every method checks a
// connection out for the duration of one statement only.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects and pings the database.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Pool exposes the underlying pool (migrations).
func (p *Postgres) Pool() *pgxpool.Pool { return p.pool }

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() { p.pool.Close() }

const businessColumns = `id::text, name, industry, phone, email, COALESCE(twilio_number, ''), ai_config, services, working_hours`

func scanBusiness(row pgx.Row) (*Business, error) {
	var (
		b                              Business
		aiConfig, services, workingHrs []byte
	)
	if err := row.Scan(&b.ID, &b.Name, &b.Industry, &b.Phone, &b.Email, &b.TwilioNumber, &aiConfig, &services, &workingHrs); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(aiConfig) > 0 {
		if err := json.Unmarshal(aiConfig, &b.AIConfig); err != nil {
			return nil, fmt.Errorf("decode ai_config: %w", err)
		}
	}
	if len(services) > 0 {
		if err := json.Unmarshal(services, &b.Services); err != nil {
			return nil, fmt.Errorf("decode services: %w", err)
		}
	}
	if len(workingHrs) > 0 {
		if err := json.Unmarshal(workingHrs, &b.WorkingHours); err != nil {
			return nil, fmt.Errorf("decode working_hours: %w", err)
		}
	}
	return &b, nil
}

func (p *Postgres) GetBusiness(ctx context.Context, id string) (*Business, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return scanBusiness(p.pool.QueryRow(ctx, `SELECT `+businessColumns+` FROM businesses WHERE id = $1`, id))
}

func (p *Postgres) GetBusinessByNumber(ctx context.Context, phone string) (*Business, error) {
	return scanBusiness(p.pool.QueryRow(ctx, `SELECT `+businessColumns+` FROM businesses WHERE twilio_number = $1`, phone))
}

// SaveBusiness upserts a business (seeding and admin tooling).
func (p *Postgres) SaveBusiness(ctx context.Context, b *Business) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	aiConfig, err := json.Marshal(b.AIConfig)
	if err != nil {
		return err
	}
	services, err := json.Marshal(b.Services)
	if err != nil {
		return err
	}
	hours, err := json.Marshal(b.WorkingHours)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO businesses (id, name, industry, phone, email, twilio_number, ai_config, services, working_hours)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, industry = EXCLUDED.industry, phone = EXCLUDED.phone,
			email = EXCLUDED.email, twilio_number = EXCLUDED.twilio_number,
			ai_config = EXCLUDED.ai_config, services = EXCLUDED.services,
			working_hours = EXCLUDED.working_hours, updated_at = now()`,
		b.ID, b.Name, b.Industry, b.Phone, b.Email, b.TwilioNumber, aiConfig, services, hours)
	if err != nil {
		return fmt.Errorf("save business: %w", err)
	}
	return nil
}

const topicFilter = `business_id = $1 AND (topic = ANY($2) OR ($3 <> '' AND topic ILIKE '%' || $3 || '%'))`

func (p *Postgres) FindPolicies(ctx context.Context, businessID, topic string, limit int) ([]Policy, error) {
	normalized, candidates := TopicCandidates(topic)
	rows, err := p.pool.Query(ctx, `
		SELECT id::text, business_id::text, topic, content, updated_at
		FROM policies WHERE `+topicFilter+`
		ORDER BY updated_at DESC LIMIT $4`, businessID, candidates, normalized, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Policy, error) {
		var pol Policy
		err := row.Scan(&pol.ID, &pol.BusinessID, &pol.Topic, &pol.Content, &pol.UpdatedAt)
		return pol, err
	})
}

func (p *Postgres) FindFAQs(ctx context.Context, businessID, topic string, limit int) ([]FAQ, error) {
	normalized, candidates := TopicCandidates(topic)
	rows, err := p.pool.Query(ctx, `
		SELECT id::text, business_id::text, topic, question, answer, tags, updated_at
		FROM faqs WHERE `+topicFilter+`
		ORDER BY updated_at DESC LIMIT $4`, businessID, candidates, normalized, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("query faqs: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (FAQ, error) {
		var (
			f    FAQ
			tags []byte
		)
		if err := row.Scan(&f.ID, &f.BusinessID, &f.Topic, &f.Question, &f.Answer, &tags, &f.UpdatedAt); err != nil {
			return f, err
		}
		if len(tags) > 0 {
			_ = json.Unmarshal(tags, &f.Tags)
		}
		return f, nil
	})
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 5
	}
	return limit
}

const bookingColumns = `id::text, business_id::text, COALESCE(call_id::text, ''), customer_name, customer_phone,
	customer_email, service, booking_datetime, duration_minutes, status, confirmed_at,
	customer_notes, internal_notes, created_at`

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(&b.ID, &b.BusinessID, &b.CallID, &b.CustomerName, &b.CustomerPhone,
		&b.CustomerEmail, &b.Service, &b.BookingDatetime, &b.DurationMinutes, &b.Status, &b.ConfirmedAt,
		&b.CustomerNotes, &b.InternalNotes, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (p *Postgres) CreateBooking(ctx context.Context, b *Booking) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.DurationMinutes <= 0 {
		b.DurationMinutes = 60
	}
	if b.Status == "" {
		b.Status = BookingPending
	}
	err := p.pool.QueryRow(ctx, `
		INSERT INTO bookings (id, business_id, call_id, customer_name, customer_phone, customer_email,
			service, booking_datetime, duration_minutes, status, confirmed_at, customer_notes, internal_notes)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at`,
		b.ID, b.BusinessID, b.CallID, b.CustomerName, b.CustomerPhone, b.CustomerEmail,
		b.Service, b.BookingDatetime, b.DurationMinutes, b.Status, b.ConfirmedAt, b.CustomerNotes, b.InternalNotes,
	).Scan(&b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (p *Postgres) GetBooking(ctx context.Context, businessID, id string) (*Booking, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return scanBooking(p.pool.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1 AND business_id = $2`, id, businessID))
}

func (p *Postgres) LatestBookingByPhone(ctx context.Context, businessID, phone string) (*Booking, error) {
	return scanBooking(p.pool.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE business_id = $1 AND customer_phone = $2
		 ORDER BY booking_datetime DESC LIMIT 1`, businessID, phone))
}

func (p *Postgres) CreateCall(ctx context.Context, c *Call) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now().UTC()
	}
	if c.CallSID == "" {
		c.CallSID = c.ID
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO calls (id, business_id, call_sid, caller_phone, started_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (call_sid) DO NOTHING`,
		c.ID, c.BusinessID, c.CallSID, c.CallerPhone, c.StartedAt)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

func (p *Postgres) GetCall(ctx context.Context, id string) (*Call, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	var (
		c        Call
		duration *int
	)
	err := p.pool.QueryRow(ctx, `
		SELECT id::text, business_id::text, call_sid, caller_phone, started_at, ended_at,
			duration_seconds, transcript, intent, outcome
		FROM calls WHERE id = $1`, id,
	).Scan(&c.ID, &c.BusinessID, &c.CallSID, &c.CallerPhone, &c.StartedAt, &c.EndedAt,
		&duration, &c.Transcript, &c.Intent, &c.Outcome)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if duration != nil {
		c.DurationSeconds = *duration
	}
	return &c, nil
}

func (p *Postgres) UpdateCall(ctx context.Context, id string, u CallUpdate) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE calls SET
			transcript = CASE
				WHEN $2::text IS NULL OR $2 = '' THEN transcript
				WHEN transcript = '' THEN $2
				ELSE transcript || E'\n' || $2 END,
			intent = COALESCE($3, intent),
			outcome = COALESCE($4, outcome),
			ended_at = COALESCE($5, ended_at),
			duration_seconds = CASE WHEN $5::timestamptz IS NULL THEN duration_seconds
				ELSE EXTRACT(EPOCH FROM ($5::timestamptz - started_at))::int END
		WHERE id = $1`,
		id, u.AppendTranscript, u.Intent, u.Outcome, u.EndedAt)
	if err != nil {
		return fmt.Errorf("update call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
