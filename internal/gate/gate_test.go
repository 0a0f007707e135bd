package gate

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/model"
)

func mustHash(t *testing.T, password string) []byte {
	t.Helper()
	h, err := HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	return h
}

func testCredentials(t *testing.T) map[string]model.UserRecord {
	t.Helper()
	return map[string]model.UserRecord{
		"customer1": {Username: "customer1", PasswordHash: mustHash(t, "password123"), AllowedIP: "1.2.3.4"},
		"customer2": {Username: "customer2", PasswordHash: mustHash(t, "pass456")},
	}
}

func TestCheck(t *testing.T) {
	creds := testCredentials(t)

	tests := []struct {
		name      string
		creds     map[string]model.UserRecord
		username  string
		password  string
		caller    netip.Addr
		lookupErr error
		wantErr   error
	}{
		{name: "no table", creds: nil, username: "customer1", password: "password123", wantErr: ErrNoCredentials},
		{name: "unknown user", creds: creds, username: "nobody", password: "x", wantErr: ErrInvalidCredentials},
		{name: "wrong password", creds: creds, username: "customer2", password: "PASS456", wantErr: ErrInvalidCredentials},
		{name: "username is case sensitive", creds: creds, username: "Customer2", password: "pass456", wantErr: ErrInvalidCredentials},
		{name: "any ip allowed", creds: creds, username: "customer2", password: "pass456", caller: netip.MustParseAddr("5.6.7.8")},
		{name: "any ip allowed without lookup", creds: creds, username: "customer2", password: "pass456", lookupErr: errors.New("timeout")},
		{name: "allowed ip matches", creds: creds, username: "customer1", password: "password123", caller: netip.MustParseAddr("1.2.3.4")},
		{name: "ipv4-mapped matches", creds: creds, username: "customer1", password: "password123", caller: netip.MustParseAddr("::ffff:1.2.3.4")},
		{name: "allowed ip mismatch", creds: creds, username: "customer1", password: "password123", caller: netip.MustParseAddr("5.6.7.8"), wantErr: ErrIPMismatch},
		{name: "lookup failed", creds: creds, username: "customer1", password: "password123", lookupErr: errors.New("timeout"), wantErr: ErrIPLookup},
		{name: "caller unknown", creds: creds, username: "customer1", password: "password123", wantErr: ErrIPLookup},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Check(tt.creds, tt.username, tt.password, tt.caller, tt.lookupErr)
			if tt.wantErr != nil {
				assert.False(t, d.Allowed)
				assert.ErrorIs(t, d.Err, tt.wantErr)
				assert.Equal(t, tt.wantErr.Error(), d.Reason())
				return
			}
			assert.True(t, d.Allowed)
			assert.Equal(t, tt.username, d.Username)
			assert.Empty(t, d.Reason())
		})
	}
}

func TestCheck_ReplacedTableDropsOldUser(t *testing.T) {
	old := testCredentials(t)
	d := Check(old, "customer2", "pass456", netip.Addr{}, nil)
	require.True(t, d.Allowed)

	replaced := map[string]model.UserRecord{
		"customer3": {Username: "customer3", PasswordHash: mustHash(t, "x")},
	}
	d = Check(replaced, "customer2", "pass456", netip.Addr{}, nil)
	assert.False(t, d.Allowed)
	assert.ErrorIs(t, d.Err, ErrInvalidCredentials)
}

func TestAdmin(t *testing.T) {
	admin, err := NewAdmin("admin", "s3cret", "")
	require.NoError(t, err)

	assert.True(t, admin.Check("admin", "s3cret").Allowed)
	assert.False(t, admin.Check("admin", "wrong").Allowed)
	assert.False(t, admin.Check("root", "s3cret").Allowed)

	hashed, err := NewAdmin("admin", "", string(mustHash(t, "fromhash")))
	require.NoError(t, err)
	assert.True(t, hashed.Check("admin", "fromhash").Allowed)

	_, err = NewAdmin("admin", "", "not-a-bcrypt-hash")
	assert.Error(t, err)

	_, err = NewAdmin("", "x", "")
	assert.Error(t, err)
}
