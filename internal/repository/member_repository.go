package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/faizol/loyalty-migration/internal/model"
)

// MemberRepo encapsulates database operations on the members table.
// The bulk lookup methods exist specifically for the migration
// pipeline: one chunk of import rows performs exactly two set queries
// (phones, emails) instead of two point queries per row.
type MemberRepo struct {
	db *sql.DB
}

// NewMemberRepo returns a MemberRepo bound to the given database.
func NewMemberRepo(db *sql.DB) *MemberRepo { return &MemberRepo{db: db} }

const memberCols = "id, phone, email, full_name, location, role, organization_id, password_hash, last_migration_points, joined_at, created_at, updated_at"

func scanMember(rows *sql.Rows) (model.Member, error) {
	var m model.Member
	var points string
	err := rows.Scan(&m.ID, &m.Phone, &m.Email, &m.FullName, &m.Location, &m.Role,
		&m.OrganizationID, &m.PasswordHash, &points, &m.JoinedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return model.Member{}, err
	}
	m.LastMigrationPoints, err = decimal.NewFromString(points)
	if err != nil {
		return model.Member{}, err
	}
	return m, nil
}

// FindByPhones returns all members whose phone is in the given set.
// The result is keyed by phone. An empty input returns an empty map
// without touching the database.
func (r *MemberRepo) FindByPhones(ctx context.Context, phones []string) (map[string]model.Member, error) {
	out := make(map[string]model.Member, len(phones))
	if len(phones) == 0 {
		return out, nil
	}
	placeholders := make([]string, len(phones))
	args := make([]interface{}, len(phones))
	for i, p := range phones {
		placeholders[i] = "?"
		args[i] = p
	}
	query := "SELECT " + memberCols + " FROM members WHERE phone IN (" + strings.Join(placeholders, ",") + ")"
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out[m.Phone] = m
	}
	return out, rows.Err()
}

// FindByEmails returns all members whose email is in the given set.
// Emails are normalized to lower case before querying and the result
// is keyed by the lowercased email.
func (r *MemberRepo) FindByEmails(ctx context.Context, emails []string) (map[string]model.Member, error) {
	out := make(map[string]model.Member, len(emails))
	if len(emails) == 0 {
		return out, nil
	}
	placeholders := make([]string, len(emails))
	args := make([]interface{}, len(emails))
	for i, e := range emails {
		placeholders[i] = "?"
		args[i] = strings.ToLower(strings.TrimSpace(e))
	}
	query := "SELECT " + memberCols + " FROM members WHERE email IN (" + strings.Join(placeholders, ",") + ")"
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out[strings.ToLower(m.Email)] = m
	}
	return out, rows.Err()
}

// Create inserts a new member and returns its generated ID. Duplicate
// key violations (MySQL error 1062) are mapped to the sentinel errors
// so callers can produce operator-readable messages.
func (r *MemberRepo) Create(ctx context.Context, m model.Member) (uint64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO members (phone, email, full_name, location, role, organization_id, password_hash, last_migration_points, joined_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		m.Phone, strings.ToLower(m.Email), m.FullName, m.Location, m.Role,
		m.OrganizationID, m.PasswordHash, m.LastMigrationPoints.String(), m.JoinedAt)
	if err != nil {
		low := strings.ToLower(err.Error())
		if strings.Contains(low, "1062") {
			if strings.Contains(low, "phone") {
				return 0, ErrPhoneExists
			}
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// ProfileUpdate carries the per-member field updates written at the
// end of a chunk. Watermark is only written when delta != 0, so it is
// optional here.
type ProfileUpdate struct {
	MemberID  uint64
	FullName  string
	Location  string
	Email     string
	Phone     string
	JoinedAt  time.Time
	Watermark *decimal.Decimal
}

// UpdateProfile applies a single member's import-derived field update.
func (r *MemberRepo) UpdateProfile(ctx context.Context, u ProfileUpdate) error {
	if u.Watermark != nil {
		_, err := r.db.ExecContext(ctx,
			`UPDATE members SET full_name=?, location=?, email=?, phone=?, joined_at=?, last_migration_points=? WHERE id=?`,
			u.FullName, u.Location, strings.ToLower(u.Email), u.Phone, u.JoinedAt, u.Watermark.String(), u.MemberID)
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE members SET full_name=?, location=?, email=?, phone=?, joined_at=? WHERE id=?`,
		u.FullName, u.Location, strings.ToLower(u.Email), u.Phone, u.JoinedAt, u.MemberID)
	return err
}

// GetByID fetches a single member by id. Not used on the hot import
// path, which only ever does set lookups.
func (r *MemberRepo) GetByID(ctx context.Context, id uint64) (model.Member, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+memberCols+" FROM members WHERE id=? LIMIT 1", id)
	if err != nil {
		return model.Member{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return model.Member{}, err
		}
		return model.Member{}, ErrNotFound
	}
	return scanMember(rows)
}
