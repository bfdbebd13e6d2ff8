package service

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"binancedash/internal/infrastructure/blob"
	"binancedash/internal/model"
	"binancedash/internal/repository"
	"binancedash/internal/testutil"
	"binancedash/pkg/crypto"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	fs     afero.Fs
	locker *testutil.MutexLocker
	market *testutil.FakeMarket
	deps   Deps
	svc    *Services
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t)
	cfg := testutil.NewTestConfig()

	fs := afero.NewMemMapFs()
	store, err := blob.NewStore(fs, &cfg.Storage)
	require.NoError(t, err)

	sealer, err := crypto.NewSealer(cfg.Security.EncryptionKey)
	require.NoError(t, err)

	f := &fixture{
		db:     db,
		fs:     fs,
		locker: &testutil.MutexLocker{},
		market: &testutil.FakeMarket{},
	}
	f.deps = Deps{
		DB:     db,
		Locker: f.locker,
		Blobs:  store,
		Market: f.market,
		Sealer: sealer,
		Config: cfg,
	}
	f.rebuild(t)
	return f
}

// rebuild 修改 deps 后重新构造服务
func (f *fixture) rebuild(t *testing.T) {
	t.Helper()
	svc, err := NewServices(f.deps)
	require.NoError(t, err)
	f.svc = svc
}

func (f *fixture) bind(t *testing.T, userID string) *model.BinanceAccount {
	t.Helper()
	account, err := f.svc.Bind.Bind(context.Background(), userID, &BindRequest{
		APIKey:    "key-" + userID,
		APISecret: "secret-" + userID,
	})
	require.NoError(t, err)
	return account
}

// current 读取偏好指针，没有偏好返回 (nil, false)
func (f *fixture) current(t *testing.T, userID string) (*int64, bool) {
	t.Helper()
	pref, err := repository.NewPreferenceRepository(f.db).GetByUserID(context.Background(), nil, userID)
	if errors.Is(err, repository.ErrPreferenceNotFound) {
		return nil, false
	}
	require.NoError(t, err)
	return pref.CurrentBinanceUserID, true
}

func (f *fixture) countAccounts(t *testing.T, userID string) int64 {
	t.Helper()
	n, err := repository.NewBinanceAccountRepository(f.db).CountByUserID(context.Background(), nil, userID)
	require.NoError(t, err)
	return n
}

func (f *fixture) events(t *testing.T, userID string) []*model.OutboxMessage {
	t.Helper()
	var msgs []*model.OutboxMessage
	require.NoError(t, f.db.Where("message_key = ?", userID).Order("id ASC").Find(&msgs).Error)
	return msgs
}

// requireInvariant 偏好指针为空或指向该用户自己的账户；没有账户时不存在偏好
func (f *fixture) requireInvariant(t *testing.T, userID string) {
	t.Helper()
	ptr, ok := f.current(t, userID)
	n := f.countAccounts(t, userID)
	if n == 0 {
		require.False(t, ok, "user %s has no accounts but still has a preference", userID)
		return
	}
	if !ok || ptr == nil {
		return
	}
	_, err := repository.NewBinanceAccountRepository(f.db).GetOwned(context.Background(), nil, *ptr, userID)
	require.NoError(t, err, "user %s points at %d which it does not own", userID, *ptr)
}

type failingBlobs struct{}

func (failingBlobs) Upload(context.Context, string, []byte) (string, error) {
	return "", errors.New("storage unavailable")
}

func (failingBlobs) Delete(context.Context, string) error {
	return errors.New("storage unavailable")
}

// failAccountWrites 让 binance_users 上的 INSERT / UPDATE / DELETE 全部失败
func failAccountWrites(t *testing.T, db *gorm.DB) {
	t.Helper()
	fail := func(tx *gorm.DB) {
		if tx.Statement.Table == "binance_users" {
			_ = tx.AddError(errors.New("injected account failure"))
		}
	}
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_account_create", fail))
	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("test:fail_account_update", fail))
	require.NoError(t, db.Callback().Delete().Before("gorm:delete").Register("test:fail_account_delete", fail))
}

// failPreferenceWrites 让 user_preferences 上的 UPDATE / DELETE 全部失败
func failPreferenceWrites(t *testing.T, db *gorm.DB) {
	t.Helper()
	fail := func(tx *gorm.DB) {
		if tx.Statement.Table == "user_preferences" {
			_ = tx.AddError(errors.New("injected preference failure"))
		}
	}
	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("test:fail_pref_update", fail))
	require.NoError(t, db.Callback().Delete().Before("gorm:delete").Register("test:fail_pref_delete", fail))
}

func pngBytes(size int) []byte {
	data := make([]byte, size)
	copy(data, []byte("\x89PNG\r\n\x1a\n"))
	return data
}

func mustParseID(t *testing.T, s string) int64 {
	t.Helper()
	id, err := strconv.ParseInt(s, 10, 64)
	require.NoError(t, err)
	return id
}
