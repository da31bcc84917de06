package session

import (
	"strconv"
	"time"
)

// Record is the stored state of one session scope.
type Record struct {
	TenantID string
	UserID   string
	Scope    string

	RefreshJTI string
	AccessJTI  string

	IssuedAt        time.Time
	ExpiresAt       time.Time
	AccessExpiresAt time.Time
	CreatedAt       time.Time
}

// Rotation carries the identifiers of the pair replacing the current one.
type Rotation struct {
	RefreshJTI      string
	AccessJTI       string
	IssuedAt        time.Time
	ExpiresAt       time.Time
	AccessExpiresAt time.Time
}

const (
	fieldRefreshJTI   = "rj"
	fieldAccessJTI    = "aj"
	fieldIssuedAt     = "iat"
	fieldExpiresAt    = "exp"
	fieldCreatedAt    = "cat"
	fieldAccessExpiry = "ae"
)

func msString(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func msTime(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func recordFromFields(tenantID, userID, scope string, fields map[string]string) *Record {
	return &Record{
		TenantID:        tenantID,
		UserID:          userID,
		Scope:           scope,
		RefreshJTI:      fields[fieldRefreshJTI],
		AccessJTI:       fields[fieldAccessJTI],
		IssuedAt:        msTime(fields[fieldIssuedAt]),
		ExpiresAt:       msTime(fields[fieldExpiresAt]),
		AccessExpiresAt: msTime(fields[fieldAccessExpiry]),
		CreatedAt:       msTime(fields[fieldCreatedAt]),
	}
}

func recordFromFlat(tenantID, userID, scope string, flat []interface{}) *Record {
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		fields[k] = v
	}
	return recordFromFields(tenantID, userID, scope, fields)
}
