package model

import (
    "time"

    "github.com/shopspring/decimal"
)

// Member represents a consumer account as stored in the `members`
// table. Phone is the primary identity key and email the secondary
// key; both carry unique indexes that act as the final backstop
// against duplicate provisioning during bulk imports.
//
// Fields:
//  ID                  – primary key identifier of the member.
//  Phone               – unique phone number in canonical +60 form.
//  Email               – unique lowercased email address.
//  FullName            – display name, title-cased on import.
//  Location            – free-form location / branch string.
//  Role                – role name (e.g. MEMBER).
//  OrganizationID      – owning organization, nullable.
//  PasswordHash        – bcrypt hashed password.
//  LastMigrationPoints – watermark of the last applied migration
//                        points value; NOT a balance. Used only to
//                        compute the next migration delta.
//  JoinedAt            – date the member joined, from the import file.
//  CreatedAt           – timestamp of creation.
//  UpdatedAt           – timestamp of last update.
type Member struct {
    ID                  uint64          // members.id
    Phone               string          // members.phone
    Email               string          // members.email
    FullName            string          // members.full_name
    Location            string          // members.location
    Role                string          // members.role
    OrganizationID      *uint64         // members.organization_id (nullable)
    PasswordHash        string          // members.password_hash
    LastMigrationPoints decimal.Decimal // members.last_migration_points
    JoinedAt            time.Time       // members.joined_at
    CreatedAt           time.Time       // members.created_at
    UpdatedAt           time.Time       // members.updated_at
}
