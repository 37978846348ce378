package numbers

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"voip-dashboard/internal/notifications"
	"voip-dashboard/internal/telephony"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	info      telephony.NumberInfo
	lookupErr error
	assignErr error
	assigned  []string
}

func (f *fakeProvider) LookupNumber(ctx context.Context, phoneNumber string) (telephony.NumberInfo, error) {
	if f.lookupErr != nil {
		return telephony.NumberInfo{}, f.lookupErr
	}
	return f.info, nil
}

func (f *fakeProvider) AssignConnection(ctx context.Context, providerNumberID, connectionID string) error {
	f.assigned = append(f.assigned, providerNumberID+"="+connectionID)
	return f.assignErr
}

func seedNumber(t *testing.T, repo *MemoryRepo, owner, phone string) PhoneNumber {
	t.Helper()
	n, err := repo.Create(context.Background(), PhoneNumber{OwnerID: owner, PhoneNumber: phone})
	require.NoError(t, err)
	return n
}

func TestResolver_ResolveOwner(t *testing.T) {
	repo := NewMemoryRepo()
	seedNumber(t, repo, "u1", "+15550001111")
	r := NewResolver(repo)
	ctx := context.Background()

	owner, err := r.ResolveOwner(ctx, "+15550001111")
	require.NoError(t, err)
	assert.Equal(t, "u1", owner)

	owner, err = r.ResolveOwner(ctx, "+15559999999")
	require.NoError(t, err)
	assert.Empty(t, owner)

	owner, err = r.ResolveOwner(ctx, "  ")
	require.NoError(t, err)
	assert.Empty(t, owner)
}

func TestEnableVoice_AssignsConfiguredConnection(t *testing.T) {
	repo := NewMemoryRepo()
	n := seedNumber(t, repo, "u1", "+15550001111")
	prov := &fakeProvider{info: telephony.NumberInfo{ID: "pn-1", PhoneNumber: "+15550001111"}}
	noteRepo := notifications.NewMemoryRepo()
	svc := NewService(repo, prov, notifications.NewService(noteRepo), "conn-9", nil)

	got, err := svc.EnableVoice(context.Background(), "u1", "+15550001111")
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, "conn-9", got.ConnectionID)
	assert.Equal(t, "pn-1", got.ProviderNumberID)
	assert.True(t, got.VoiceReady())
	assert.Equal(t, []string{"pn-1=conn-9"}, prov.assigned)

	notes := noteRepo.All()
	require.Len(t, notes, 1)
	assert.Equal(t, notifications.TypeNumber, notes[0].Type)
	assert.Equal(t, "u1", notes[0].UserID)
}

func TestEnableVoice_KeepsExistingProviderConnection(t *testing.T) {
	repo := NewMemoryRepo()
	seedNumber(t, repo, "u1", "+15550001111")
	prov := &fakeProvider{info: telephony.NumberInfo{ID: "pn-1", ConnectionID: "existing"}}
	svc := NewService(repo, prov, nil, "conn-9", nil)

	got, err := svc.EnableVoice(context.Background(), "u1", "+15550001111")
	require.NoError(t, err)
	assert.Equal(t, "existing", got.ConnectionID)
	assert.Empty(t, prov.assigned)
}

func TestEnableVoice_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("not owned", func(t *testing.T) {
		repo := NewMemoryRepo()
		seedNumber(t, repo, "u1", "+1")
		svc := NewService(repo, &fakeProvider{}, nil, "c", nil)
		_, err := svc.EnableVoice(ctx, "u2", "+1")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown number", func(t *testing.T) {
		svc := NewService(NewMemoryRepo(), &fakeProvider{}, nil, "c", nil)
		_, err := svc.EnableVoice(ctx, "u1", "+1")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("missing at provider", func(t *testing.T) {
		repo := NewMemoryRepo()
		seedNumber(t, repo, "u1", "+1")
		svc := NewService(repo, &fakeProvider{lookupErr: telephony.ErrProviderNotFound}, nil, "c", nil)
		_, err := svc.EnableVoice(ctx, "u1", "+1")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("no connection configured", func(t *testing.T) {
		repo := NewMemoryRepo()
		seedNumber(t, repo, "u1", "+1")
		svc := NewService(repo, &fakeProvider{info: telephony.NumberInfo{ID: "pn"}}, nil, "", nil)
		_, err := svc.EnableVoice(ctx, "u1", "+1")
		require.ErrorIs(t, err, ErrNotConfigured)
	})

	t.Run("assign fails", func(t *testing.T) {
		repo := NewMemoryRepo()
		seedNumber(t, repo, "u1", "+1")
		boom := &telephony.ProviderError{Op: "assign connection", Status: 500}
		svc := NewService(repo, &fakeProvider{info: telephony.NumberInfo{ID: "pn"}, assignErr: boom}, nil, "c", nil)
		_, err := svc.EnableVoice(ctx, "u1", "+1")
		var pe *telephony.ProviderError
		require.True(t, errors.As(err, &pe))

		n, err := repo.FindByNumber(ctx, "+1")
		require.NoError(t, err)
		assert.False(t, n.VoiceReady())
	})
}

func TestPostgresRepo_FindByNumber(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresRepo(db)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	cols := []string{"id", "owner_id", "phone_number", "provider_number_id", "connection_id", "country_code", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM phone_numbers WHERE phone_number = $1")).
		WithArgs("+1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("n1", "u1", "+1", nil, nil, "US", at, at))
	mock.ExpectQuery(regexp.QuoteMeta("FROM phone_numbers WHERE phone_number = $1")).
		WithArgs("+2").
		WillReturnRows(sqlmock.NewRows(cols))

	n, err := repo.FindByNumber(context.Background(), "+1")
	require.NoError(t, err)
	assert.Equal(t, "u1", n.OwnerID)
	assert.Equal(t, "US", n.CountryCode)
	assert.False(t, n.VoiceReady())

	_, err = repo.FindByNumber(context.Background(), "+2")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_SetConnection(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresRepo(db)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	cols := []string{"id", "owner_id", "phone_number", "provider_number_id", "connection_id", "country_code", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE phone_numbers")).
		WithArgs("n1", "pn-1", "conn-9", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("n1", "u1", "+1", "pn-1", "conn-9", nil, at, at))

	n, err := repo.SetConnection(context.Background(), "n1", "pn-1", "conn-9")
	require.NoError(t, err)
	assert.Equal(t, "conn-9", n.ConnectionID)
	require.NoError(t, mock.ExpectationsWereMet())
}
