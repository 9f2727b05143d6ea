package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) Repository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(_ context.Context) querier {
	return r.pool
}

const patientCols = `id, full_name, id_number, birth_date, gender, address, phone, email,
	blood_type, emergency_contact, registration_date, last_visit, total_visits,
	conditions, allergies, insurance, status, created_at`

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patients (
			id, full_name, id_number, birth_date, gender, address, phone, email,
			blood_type, emergency_contact, registration_date, last_visit, total_visits,
			conditions, allergies, insurance, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		p.ID, p.FullName, p.IDNumber, p.BirthDate, p.Gender, p.Address, p.Phone, p.Email,
		p.BloodType, p.EmergencyContact, p.RegistrationDate, p.LastVisit, p.TotalVisits,
		nonNil(p.Conditions), nonNil(p.Allergies), p.Insurance, p.Status,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateID
	}
	if err != nil {
		return fmt.Errorf("insert patient %s: %w", p.ID, err)
	}
	return nil
}

func (r *patientRepoPG) Get(ctx context.Context, id string) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient %s: %w", id, err)
	}
	return p, nil
}

func (r *patientRepoPG) Candidates(ctx context.Context, d Draft) ([]*Patient, error) {
	id := normalizeID(d.IDNumber)
	bd := strings.TrimSpace(d.BirthDate)
	if id == "" && bd == "" {
		return nil, nil
	}
	return r.list(ctx, `SELECT `+patientCols+` FROM patients
		WHERE ($1 <> '' AND upper(replace(replace(id_number, '-', ''), ' ', '')) = $1)
		   OR ($2 <> '' AND birth_date = $2)
		ORDER BY created_at, id`, id, bd)
}

func (r *patientRepoPG) Find(ctx context.Context, query string) ([]*Patient, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	pattern := "%" + escapeLike(q) + "%"
	return r.list(ctx, `SELECT `+patientCols+` FROM patients
		WHERE full_name ILIKE $1 OR id_number ILIKE $1 OR id ILIKE $1 OR gender ILIKE $1
		   OR EXISTS (SELECT 1 FROM unnest(conditions) c WHERE c ILIKE $1)
		   OR EXISTS (SELECT 1 FROM unnest(allergies) a WHERE a ILIKE $1)
		ORDER BY full_name`, pattern)
}

func (r *patientRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT count(*) FROM patients`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count patients: %w", err)
	}
	return n, nil
}

func (r *patientRepoPG) list(ctx context.Context, sql string, args ...interface{}) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.FullName, &p.IDNumber, &p.BirthDate, &p.Gender, &p.Address, &p.Phone, &p.Email,
		&p.BloodType, &p.EmergencyContact, &p.RegistrationDate, &p.LastVisit, &p.TotalVisits,
		&p.Conditions, &p.Allergies, &p.Insurance, &p.Status, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
