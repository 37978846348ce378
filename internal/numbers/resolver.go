package numbers

import (
	"context"
	"errors"
	"strings"
)

// Resolver maps a dialed number to the user that owns it.
type Resolver struct {
	repo Repository
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// ResolveOwner returns the owner's user id, or "" with a nil error when the
// number is not provisioned through this system.
func (r *Resolver) ResolveOwner(ctx context.Context, phoneNumber string) (string, error) {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if phoneNumber == "" {
		return "", nil
	}
	n, err := r.repo.FindByNumber(ctx, phoneNumber)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return n.OwnerID, nil
}
