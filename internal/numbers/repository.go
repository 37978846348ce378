package numbers

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("numbers: not found")
	ErrInvalidArgument = errors.New("numbers: invalid argument")
)

type Repository interface {
	Create(ctx context.Context, n PhoneNumber) (PhoneNumber, error)
	FindByNumber(ctx context.Context, phoneNumber string) (PhoneNumber, error)
	ListByOwner(ctx context.Context, ownerID string) ([]PhoneNumber, error)
	SetConnection(ctx context.Context, id, providerNumberID, connectionID string) (PhoneNumber, error)
}
