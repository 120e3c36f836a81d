package importer

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/faizol/loyalty-migration/internal/model"
	"github.com/faizol/loyalty-migration/internal/repository"
	"github.com/faizol/loyalty-migration/internal/utils"
)

// defaultRole is assigned to members created by the migration.
const defaultRole = "MEMBER"

// resolve matches one row against the chunk cache. Phone is the
// primary key, email the secondary. It returns:
//   - the matched member, or
//   - (nil, nil) when no match exists and provisioning is required, or
//   - a ConflictError when phone and email belong to two different
//     existing members; such a row must not mutate anything.
//
// A row matched only by email keeps that member as the candidate; the
// writer will stamp the row's phone onto it.
func resolve(cache *chunkCache, row NormalizedRow) (*model.Member, error) {
	byPhone := cache.lookupPhone(row.Phone)
	byEmail := cache.lookupEmail(row.Email)

	switch {
	case byPhone != nil && byEmail != nil && byPhone.ID != byEmail.ID:
		return nil, &ConflictError{PhoneMemberID: byPhone.ID, EmailMemberID: byEmail.ID}
	case byPhone != nil:
		return byPhone, nil
	case byEmail != nil:
		return byEmail, nil
	default:
		return nil, nil
	}
}

// provisioner creates new members for rows that matched nothing.
type provisioner struct {
	store           MemberStore
	mode            PasswordMode
	defaultPassword string
	bcryptCost      int
}

// provision creates a member for the row and injects it into the
// chunk cache under both keys. Creation is a one-shot side effect: a
// store failure surfaces as a ProvisioningError on the row, never a
// retry.
func (p *provisioner) provision(ctx context.Context, cache *chunkCache, row NormalizedRow) (*model.Member, error) {
	password := p.defaultPassword
	if p.mode == PasswordModeFile {
		password = row.Password
	}
	if password == "" {
		return nil, &ProvisioningError{Reason: "password required for new member"}
	}

	hash, err := utils.HashPassword(password, p.bcryptCost)
	if err != nil {
		return nil, &ProvisioningError{Reason: "could not prepare account password", cause: err}
	}

	m := model.Member{
		Phone:               row.Phone,
		Email:               row.Email,
		FullName:            row.Name,
		Location:            row.Location,
		Role:                defaultRole,
		PasswordHash:        hash,
		LastMigrationPoints: decimal.Zero,
		JoinedAt:            row.JoinedAt,
		CreatedAt:           time.Now().UTC(),
	}
	id, err := p.store.Create(ctx, m)
	if err != nil {
		log.Printf("import-run: member create failed for row %d: %v", row.RowNumber, err)
		switch {
		case errors.Is(err, repository.ErrPhoneExists):
			return nil, &ProvisioningError{Reason: "phone already registered to another member", cause: err}
		case errors.Is(err, repository.ErrEmailExists):
			return nil, &ProvisioningError{Reason: "email already registered to another member", cause: err}
		default:
			return nil, &ProvisioningError{Reason: "could not create new member", cause: err}
		}
	}
	m.ID = id

	cache.inject(&m)
	return &m, nil
}
