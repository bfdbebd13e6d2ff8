package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"binancedash/internal/infrastructure/exchange"
	"binancedash/internal/model"
	"binancedash/internal/repository"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBind_FirstBindBecomesCurrent(t *testing.T) {
	f := newFixture(t)

	account := f.bind(t, "alice")

	ptr, ok := f.current(t, "alice")
	require.True(t, ok)
	require.NotNil(t, ptr)
	assert.Equal(t, account.ID, *ptr)
}

func TestBind_SecondBindKeepsExistingPreference(t *testing.T) {
	f := newFixture(t)

	first := f.bind(t, "alice")
	second := f.bind(t, "alice")
	require.NotEqual(t, first.ID, second.ID)

	ptr, ok := f.current(t, "alice")
	require.True(t, ok)
	assert.Equal(t, first.ID, *ptr)
}

func TestBind_StoresSealedCredentials(t *testing.T) {
	f := newFixture(t)

	account, err := f.svc.Bind.Bind(context.Background(), "alice", &BindRequest{
		APIKey:    "  plain-key  ",
		APISecret: "plain-secret",
		Nickname:  "主账户",
	})
	require.NoError(t, err)

	stored, err := repository.NewBinanceAccountRepository(f.db).GetOwned(context.Background(), nil, account.ID, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, "plain-key", stored.APIKey)
	assert.NotContains(t, stored.SecretKey, "plain-secret")

	key, err := f.deps.Sealer.Open(stored.APIKey)
	require.NoError(t, err)
	assert.Equal(t, "plain-key", key)

	require.NotNil(t, stored.Nickname)
	assert.Equal(t, "主账户", *stored.Nickname)
}

func TestBind_ValidationHappensBeforeSideEffects(t *testing.T) {
	cases := []struct {
		name string
		req  *BindRequest
	}{
		{"empty api key", &BindRequest{APIKey: "  ", APISecret: "s"}},
		{"empty secret", &BindRequest{APIKey: "k", APISecret: ""}},
		{"nickname too long", &BindRequest{APIKey: "k", APISecret: "s", Nickname: strings.Repeat("名", 65)}},
		{"avatar too large", &BindRequest{APIKey: "k", APISecret: "s", Avatar: &AvatarFile{
			Filename: "big.png", ContentType: "image/png", Data: pngBytes(3 << 20),
		}}},
		{"avatar wrong type", &BindRequest{APIKey: "k", APISecret: "s", Avatar: &AvatarFile{
			Filename: "a.svg", ContentType: "image/svg+xml", Data: []byte("<svg/>"),
		}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.svc.Bind.Bind(context.Background(), "alice", tc.req)

			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, int64(0), f.countAccounts(t, "alice"))
			_, ok := f.current(t, "alice")
			assert.False(t, ok)
			assert.Zero(t, f.locker.Calls, "lock must not be taken for invalid input")
		})
	}
}

func TestBind_AvatarUploaded(t *testing.T) {
	f := newFixture(t)

	account, err := f.svc.Bind.Bind(context.Background(), "alice", &BindRequest{
		APIKey:    "k",
		APISecret: "s",
		Avatar:    &AvatarFile{Filename: "me.png", ContentType: "image/png", Data: pngBytes(128)},
	})
	require.NoError(t, err)
	require.NotNil(t, account.AvatarURL)
	assert.True(t, strings.HasPrefix(*account.AvatarURL, "http://localhost/storage/binance/alice/"))
	assert.True(t, strings.HasSuffix(*account.AvatarURL, ".png"))

	files, err := afero.ReadDir(f.fs, "/storage/binance/alice")
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestBind_AvatarSniffedWhenTypeMissing(t *testing.T) {
	f := newFixture(t)

	account, err := f.svc.Bind.Bind(context.Background(), "alice", &BindRequest{
		APIKey:    "k",
		APISecret: "s",
		Avatar:    &AvatarFile{Filename: "blob", Data: []byte("GIF89a........")},
	})
	require.NoError(t, err)
	require.NotNil(t, account.AvatarURL)
	assert.True(t, strings.HasSuffix(*account.AvatarURL, ".gif"))
}

func TestBind_AvatarUploadFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.deps.Blobs = failingBlobs{}
	f.rebuild(t)

	account, err := f.svc.Bind.Bind(context.Background(), "alice", &BindRequest{
		APIKey:    "k",
		APISecret: "s",
		Avatar:    &AvatarFile{ContentType: "image/jpeg", Data: []byte("\xff\xd8\xff\xe0jpeg")},
	})
	require.NoError(t, err)
	assert.Nil(t, account.AvatarURL)
	assert.Equal(t, int64(1), f.countAccounts(t, "alice"))
}

func TestBind_EmptyAvatarIgnored(t *testing.T) {
	f := newFixture(t)

	account, err := f.svc.Bind.Bind(context.Background(), "alice", &BindRequest{
		APIKey:    "k",
		APISecret: "s",
		Avatar:    &AvatarFile{Filename: "empty.png", ContentType: "image/png"},
	})
	require.NoError(t, err)
	assert.Nil(t, account.AvatarURL)
}

func TestBind_CredentialVerification(t *testing.T) {
	f := newFixture(t)
	f.deps.Config.Business.VerifyCredentials = true
	f.rebuild(t)

	f.market.VerifyErr = exchange.ErrInvalidCredentials
	_, err := f.svc.Bind.Bind(context.Background(), "alice", &BindRequest{APIKey: "k", APISecret: "s"})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, int64(0), f.countAccounts(t, "alice"))

	f.market.VerifyErr = errors.New("connection reset")
	_, err = f.svc.Bind.Bind(context.Background(), "alice", &BindRequest{APIKey: "k", APISecret: "s"})
	var upstreamErr *UpstreamError
	require.ErrorAs(t, err, &upstreamErr)

	f.market.VerifyErr = nil
	_, err = f.svc.Bind.Bind(context.Background(), "alice", &BindRequest{APIKey: "k", APISecret: "s"})
	require.NoError(t, err)
	assert.Equal(t, "k", f.market.LastAPIKey)
}

func TestBind_LockBusy(t *testing.T) {
	f := newFixture(t)
	f.locker.Err = errors.New("lock held")

	_, err := f.svc.Bind.Bind(context.Background(), "alice", &BindRequest{APIKey: "k", APISecret: "s"})
	var busyErr *BusyError
	require.ErrorAs(t, err, &busyErr)
	assert.Equal(t, int64(0), f.countAccounts(t, "alice"))
}

func TestBind_WritesOutboxEvent(t *testing.T) {
	f := newFixture(t)

	account := f.bind(t, "alice")

	msgs := f.events(t, "alice")
	require.Len(t, msgs, 1)
	assert.Equal(t, model.EventAccountBound, msgs[0].EventType)
	assert.Equal(t, "test_account_event", msgs[0].Topic)
	assert.Equal(t, model.OutboxStatusPending, msgs[0].Status)

	var event model.AccountEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Payload), &event))
	assert.Equal(t, "alice", event.UserID)
	assert.NotEmpty(t, event.BinanceUserID)
	assert.Equal(t, event.BinanceUserID, event.CurrentBinanceUserID)
	assert.Equal(t, account.ID, mustParseID(t, event.BinanceUserID))
}

func TestBind_ConcurrentFirstBindsCreateOnePreference(t *testing.T) {
	f := newFixture(t)

	const n = 8
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			account, err := f.svc.Bind.Bind(context.Background(), "alice", &BindRequest{APIKey: "k", APISecret: "s"})
			if assert.NoError(t, err) {
				ids <- account.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	bound := map[int64]bool{}
	for id := range ids {
		bound[id] = true
	}
	require.Len(t, bound, n)

	var prefs int64
	require.NoError(t, f.db.Model(&model.UserPreference{}).Where("user_id = ?", "alice").Count(&prefs).Error)
	assert.Equal(t, int64(1), prefs)

	ptr, ok := f.current(t, "alice")
	require.True(t, ok)
	assert.True(t, bound[*ptr])
}

func TestUpdateAvatar(t *testing.T) {
	f := newFixture(t)
	account := f.bind(t, "alice")

	updated, err := f.svc.Bind.UpdateAvatar(context.Background(), "alice", account.ID,
		&AvatarFile{ContentType: "image/png", Data: pngBytes(64)})
	require.NoError(t, err)
	require.NotNil(t, updated.AvatarURL)
	assert.Contains(t, *updated.AvatarURL, "/binance/alice/")

	msgs := f.events(t, "alice")
	require.Len(t, msgs, 2)
	assert.Equal(t, model.EventAccountAvatarUpdated, msgs[1].EventType)
}

func TestUpdateAvatar_ForeignAccount(t *testing.T) {
	f := newFixture(t)
	account := f.bind(t, "alice")

	_, err := f.svc.Bind.UpdateAvatar(context.Background(), "mallory", account.ID,
		&AvatarFile{ContentType: "image/png", Data: pngBytes(64)})
	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, MsgInvalidAccount, authErr.Error())

	stored, err := repository.NewBinanceAccountRepository(f.db).GetOwned(context.Background(), nil, account.ID, "alice")
	require.NoError(t, err)
	assert.Nil(t, stored.AvatarURL)

	exists, err := afero.DirExists(f.fs, "/storage/binance/mallory")
	require.NoError(t, err)
	assert.False(t, exists, "nothing may be uploaded for a foreign account")
}

func TestUpdateAvatar_UploadFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	account := f.bind(t, "alice")
	f.deps.Blobs = failingBlobs{}
	f.rebuild(t)

	_, err := f.svc.Bind.UpdateAvatar(context.Background(), "alice", account.ID,
		&AvatarFile{ContentType: "image/png", Data: pngBytes(64)})
	var persistErr *PersistenceError
	require.ErrorAs(t, err, &persistErr)
}

func TestUpdateAvatar_RequiresFile(t *testing.T) {
	f := newFixture(t)
	account := f.bind(t, "alice")

	_, err := f.svc.Bind.UpdateAvatar(context.Background(), "alice", account.ID, nil)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestBind_AccountInsertFailure(t *testing.T) {
	f := newFixture(t)
	failAccountWrites(t, f.db)

	_, err := f.svc.Bind.Bind(context.Background(), "alice", &BindRequest{
		APIKey:    "k",
		APISecret: "s",
		Avatar:    &AvatarFile{ContentType: "image/png", Data: pngBytes(64)},
	})
	var persistErr *PersistenceError
	require.ErrorAs(t, err, &persistErr)

	assert.Equal(t, int64(0), f.countAccounts(t, "alice"))
	_, ok := f.current(t, "alice")
	assert.False(t, ok)
	assert.Empty(t, f.events(t, "alice"))

	// 已上传的头像被清理
	files, err := afero.ReadDir(f.fs, "/storage/binance/alice")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestUpdateAvatar_PersistFailureRemovesUpload(t *testing.T) {
	f := newFixture(t)
	account := f.bind(t, "alice")
	failAccountWrites(t, f.db)

	_, err := f.svc.Bind.UpdateAvatar(context.Background(), "alice", account.ID,
		&AvatarFile{ContentType: "image/png", Data: pngBytes(64)})
	var persistErr *PersistenceError
	require.ErrorAs(t, err, &persistErr)

	files, err := afero.ReadDir(f.fs, "/storage/binance/alice")
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Len(t, f.events(t, "alice"), 1)
}
