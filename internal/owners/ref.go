package owners

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/ispbox-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
)

// Ref identifies a balance holder. It is an explicit tagged union rather
// than a polymorphic foreign key.
type Ref struct {
	Kind enums.OwnerKind `json:"kind"`
	ID   uuid.UUID       `json:"id"`
}

func Customer(id uuid.UUID) Ref {
	return Ref{Kind: enums.OwnerKindCustomer, ID: id}
}

func Partner(id uuid.UUID) Ref {
	return Ref{Kind: enums.OwnerKindPartner, ID: id}
}

// Parse builds a Ref from path parameters.
func Parse(kind, id string) (Ref, error) {
	k, err := enums.ParseOwnerKind(kind)
	if err != nil {
		return Ref{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid owner kind")
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Ref{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid owner id")
	}
	return Ref{Kind: k, ID: parsed}, nil
}

func (r Ref) Validate() error {
	if !r.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid owner kind %q", r.Kind))
	}
	if r.ID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}
	return nil
}

// Key is the lock and log key for the owner.
func (r Ref) Key() string {
	return string(r.Kind) + ":" + r.ID.String()
}

func (r Ref) String() string {
	return r.Key()
}
